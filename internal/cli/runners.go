package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/classq/pkg/model"
)

func newRunnersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runners",
		Short: "List runners attached to the coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/runners")
			if err != nil {
				return fmt.Errorf("list runners: %w", err)
			}

			var runners []model.Runner
			if err := json.Unmarshal(resp.Data, &runners); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(runners) == 0 {
				fmt.Println("No runners registered.")
				return nil
			}

			fmt.Printf("%-14s  %-20s  %-20s  %-8s  %-50s  %s\n", "ID", "NAME", "HOST", "STATE", "CURRENT CLASS", "LAST SEEN")
			fmt.Printf("%-14s  %-20s  %-20s  %-8s  %-50s  %s\n", "--", "----", "----", "-----", "-------------", "---------")
			for _, r := range runners {
				fmt.Printf("%-14s  %-20s  %-20s  %-8s  %-50s  %s\n",
					r.ID, r.Name, r.Hostname, r.State, r.CurrentClass,
					r.LastSeen.Format("15:04:05"))
			}

			return nil
		},
	}
}
