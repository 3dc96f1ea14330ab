package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"scriptbox/internal/library"
)

// NewTemplateCmd creates the template command group.
func NewTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage the script template library",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := openLibrary(cmd)
			if err != nil {
				return err
			}
			defer lib.Close()

			names := lib.Names()
			if len(names) == 0 {
				fmt.Println("no templates loaded")
				return nil
			}
			for _, name := range names {
				tmpl, err := lib.Get(name)
				if err != nil {
					continue
				}
				fmt.Printf("%-24s %s\n", name, tmpl.Description)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Print a template's source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := openLibrary(cmd)
			if err != nil {
				return err
			}
			defer lib.Close()

			tmpl, err := lib.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Print(tmpl.Source)
			return nil
		},
	})

	return cmd
}

func openLibrary(cmd *cobra.Command) (*library.Library, error) {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return nil, fmt.Errorf("CLI context not initialized")
	}

	lib, err := library.New(cliCtx.Config.Library, Version, *cliCtx.Logger)
	if err != nil {
		return nil, err
	}
	if err := lib.Load(); err != nil {
		return nil, err
	}
	return lib, nil
}
