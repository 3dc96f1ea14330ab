package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scriptbox/internal/library"
	"scriptbox/internal/manager"
)

// NewExecCmd creates the exec command.
func NewExecCmd() *cobra.Command {
	var (
		tenant      string
		eval        string
		templateRef string
		contextVars map[string]string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "exec [script.js]",
		Short: "Execute a script in a fresh sandbox instance",
		Example: `  # Run a script file
  scriptboxd exec process.js

  # Run inline source
  scriptboxd exec -e '__result__ = 1 + 2'

  # Run a library template with context variables
  scriptboxd exec --template daily-report --context day=monday`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}

			source, err := resolveSource(cliCtx, eval, templateRef, args)
			if err != nil {
				return err
			}

			db, err := cliCtx.GetStorage()
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}

			mgr := manager.New(cliCtx.Config, db, *cliCtx.Logger)
			if err := mgr.Start(); err != nil {
				return fmt.Errorf("start manager: %w", err)
			}
			defer mgr.Stop()

			inst, err := mgr.Create(cmd.Context(), tenant, nil)
			if err != nil {
				return fmt.Errorf("create instance: %w", err)
			}

			vars := make(map[string]any, len(contextVars))
			for k, v := range contextVars {
				vars[k] = v
			}

			result, err := mgr.Execute(cmd.Context(), inst.ID(), source, vars)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			if result.Stdout != "" {
				fmt.Print(result.Stdout)
			}
			if result.Stderr != "" {
				fmt.Fprint(os.Stderr, result.Stderr)
			}
			fmt.Printf("status: %s (%s)\n", result.Status, result.Duration)
			if result.Error != "" {
				fmt.Printf("error: %s\n", result.Error)
			}
			if result.Value != nil {
				data, _ := json.Marshal(result.Value)
				fmt.Printf("result: %s\n", data)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "local", "tenant identifier")
	cmd.Flags().StringVarP(&eval, "eval", "e", "", "inline source to execute")
	cmd.Flags().StringVar(&templateRef, "template", "", "execute a named library template")
	cmd.Flags().StringToStringVar(&contextVars, "context", nil, "context variables bound as globals (key=value)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full execution result as JSON")

	return cmd
}

// resolveSource picks the script source from inline flag, template reference
// or file argument, in that order of precedence.
func resolveSource(cliCtx *CLIContext, eval, templateRef string, args []string) (string, error) {
	switch {
	case eval != "":
		return eval, nil
	case templateRef != "":
		lib, err := library.New(cliCtx.Config.Library, Version, *cliCtx.Logger)
		if err != nil {
			return "", err
		}
		if err := lib.Load(); err != nil {
			return "", err
		}
		defer lib.Close()

		tmpl, err := lib.Get(templateRef)
		if err != nil {
			return "", err
		}
		return tmpl.Source, nil
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read script: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("provide a script file, --eval source or --template name")
	}
}
