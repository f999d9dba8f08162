package cli

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/me/classq/pkg/model"
)

func newResultsCmd() *cobra.Command {
	var (
		flagRun   string
		flagClass string
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "List persisted per-method results",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if flagRun != "" {
				q.Set("run_id", flagRun)
			}
			if flagClass != "" {
				q.Set("class", flagClass)
			}
			path := "/api/v1/results"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list results: %w", err)
			}

			var results []model.MethodResult
			if err := json.Unmarshal(resp.Data, &results); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(results) == 0 {
				fmt.Println("No results found.")
				return nil
			}

			fmt.Printf("%-50s  %-30s  %-8s  %-10s  %s\n", "CLASS", "METHOD", "OUTCOME", "DURATION", "RUNNER")
			fmt.Printf("%-50s  %-30s  %-8s  %-10s  %s\n", "-----", "------", "-------", "--------", "------")
			for _, res := range results {
				fmt.Printf("%-50s  %-30s  %-8s  %-10s  %s\n",
					res.ClassPath, res.Method, res.Outcome,
					fmt.Sprintf("%dms", res.DurationMs), res.RunnerID)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&flagRun, "run", "", "Run ID (defaults to the current run)")
	cmd.Flags().StringVar(&flagClass, "class", "", "Filter by class path")
	return cmd
}
