package cli

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/me/classq/pkg/model"
)

func newItemsCmd() *cobra.Command {
	var flagState string

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List test classes and their progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/items"
			if flagState != "" {
				path += "?state=" + url.QueryEscape(flagState)
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list items: %w", err)
			}

			var items []model.ItemStatus
			if err := json.Unmarshal(resp.Data, &items); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(items) == 0 {
				fmt.Println("No items found.")
				return nil
			}

			fmt.Printf("%-50s  %-12s  %-12s  %-8s  %-8s  %s\n", "CLASS", "STATE", "HELD BY", "FAILS", "TIMEOUTS", "OUTCOME")
			fmt.Printf("%-50s  %-12s  %-12s  %-8s  %-8s  %s\n", "-----", "-----", "-------", "-----", "--------", "-------")
			for _, it := range items {
				outcome := string(it.FinalOutcome)
				if it.RetiredReason != "" {
					outcome = fmt.Sprintf("%s (%s)", outcome, it.RetiredReason)
				}
				fmt.Printf("%-50s  %-12s  %-12s  %-8d  %-8d  %s\n",
					it.Item.ClassPath, it.State, it.HeldBy,
					it.Item.FailureCount, it.Item.TimeoutCount, outcome)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&flagState, "state", "", "Filter by state (QUEUED, CHECKED_OUT, COMPLETED, RETIRED)")
	return cmd
}
