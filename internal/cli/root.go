// Package cli implements the classq command line client: run status,
// per-item progress, persisted results, and runner listings.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/classq/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking CLASSQ_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("CLASSQ_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8320"
}

// NewRootCmd creates the root cobra command for the classq CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "classq",
		Short: "classq, a distributed test class coordinator",
		Long:  "classq inspects a coordinator run: status counters, per-class progress, method results, and attached runners.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Coordinator URL (or CLASSQ_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newStatusCmd(),
		newItemsCmd(),
		newResultsCmd(),
		newRunnersCmd(),
		newRunsCmd(),
	)

	return root
}
