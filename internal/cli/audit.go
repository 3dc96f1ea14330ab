package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewAuditCmd creates the audit command.
func NewAuditCmd() *cobra.Command {
	var (
		tenant     string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the query audit trail for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}

			db, err := cliCtx.GetStorage()
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}

			entries, err := db.AuditEntries(tenant, limit)
			if err != nil {
				return fmt.Errorf("load audit entries: %w", err)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(entries, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			if len(entries) == 0 {
				fmt.Println("no audit entries")
				return nil
			}
			for _, e := range entries {
				verdict := "ok"
				if e.Denied {
					verdict = "DENIED"
				} else if e.Error != "" {
					verdict = "error"
				}
				fmt.Printf("%s  %-7s rows=%-5d %dms  %s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), verdict, e.RowCount, e.DurationMS, e.Query)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "local", "tenant identifier")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}
