package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded coordinator runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/runs")
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			var runs []map[string]any
			if err := json.Unmarshal(resp.Data, &runs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			fmt.Printf("%-14s  %-25s  %-25s  %s\n", "ID", "STARTED", "FINISHED", "DISCOVERY")
			fmt.Printf("%-14s  %-25s  %-25s  %s\n", "--", "-------", "--------", "---------")
			for _, run := range runs {
				id, _ := run["id"].(string)
				startedAt, _ := run["started_at"].(string)
				finishedAt, _ := run["finished_at"].(string)
				discovery := "ok"
				if failed, _ := run["discovery_failed"].(bool); failed {
					discovery = "FAILED"
				}
				fmt.Printf("%-14s  %-25s  %-25s  %s\n", id, startedAt, finishedAt, discovery)
			}

			return nil
		},
	}
}
