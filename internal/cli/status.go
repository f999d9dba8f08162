package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/classq/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current run's counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/status")
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}

			var status model.RunStatus
			if err := json.Unmarshal(resp.Data, &status); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Run: %s\n", status.RunID)
			fmt.Printf("  Started:     %s\n", status.StartedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Printf("  Queue:       %s\n", queueLabel(status.QueueClosed))
			fmt.Printf("  Discovered:  %d\n", status.Discovered)
			fmt.Printf("  Queued:      %d\n", status.Queued)
			fmt.Printf("  Checked out: %d\n", status.CheckedOut)
			fmt.Printf("  Completed:   %d\n", status.Completed)
			fmt.Printf("  Retired:     %d\n", status.Retired)
			fmt.Printf("  Outstanding: %d\n", status.Outstanding)

			if status.DiscoveryFailed {
				fmt.Printf("  Discovery:   FAILED (%s)\n", status.DiscoveryError)
			}

			return nil
		},
	}
}

func queueLabel(closed bool) string {
	if closed {
		return "closed"
	}
	return "open"
}
