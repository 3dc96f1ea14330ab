package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scriptbox/internal/sandbox"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <script.js>...",
		Short: "Statically validate scripts against the configured policy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			validator := sandbox.NewValidator(sandbox.DefaultConfig())

			failed := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read script: %w", err)
				}

				if err := validator.Validate(string(data)); err != nil {
					fmt.Printf("%s: REJECTED: %v\n", path, err)
					failed++
					continue
				}
				fmt.Printf("%s: ok\n", path)
			}

			if failed > 0 {
				return fmt.Errorf("%d script(s) rejected", failed)
			}
			return nil
		},
	}
}
