// Package report defines the sink the coordinator finalizes work through,
// plus the built-in sink implementations.
package report

import (
	"log/slog"

	"github.com/me/classq/pkg/model"
)

// Sink receives the coordinator's reportable events. Implementations should
// tolerate duplicates defensively, but in correct operation Finalize is
// called exactly once per item and DiscoveryFailure at most once per run.
type Sink interface {
	// Result receives each accepted per-method outcome as runners report them.
	Result(res model.MethodResult)

	// Finalize receives an item's terminal disposition. reason is set only
	// when outcome is FinalRetired.
	Finalize(item *model.Item, outcome model.FinalOutcome, reason model.RetiredReason)

	// DiscoveryFailure surfaces a failed suite enumeration as a single
	// terminal report.
	DiscoveryFailure(err error)
}

// LogSink writes every event to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "report")}
}

func (s *LogSink) Result(res model.MethodResult) {
	s.logger.Info("method result",
		"class_path", res.ClassPath,
		"method", res.Method,
		"outcome", res.Outcome,
		"runner_id", res.RunnerID,
		"duration_ms", res.DurationMs,
	)
}

func (s *LogSink) Finalize(item *model.Item, outcome model.FinalOutcome, reason model.RetiredReason) {
	if outcome == model.FinalRetired {
		s.logger.Warn("class retired",
			"class_path", item.ClassPath,
			"reason", reason,
			"failure_count", item.FailureCount,
			"timeout_count", item.TimeoutCount,
		)
		return
	}
	s.logger.Info("class completed", "class_path", item.ClassPath)
}

func (s *LogSink) DiscoveryFailure(err error) {
	s.logger.Error("discovery failure", "error", err)
}

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Result(res model.MethodResult) {
	for _, s := range m {
		s.Result(res)
	}
}

func (m MultiSink) Finalize(item *model.Item, outcome model.FinalOutcome, reason model.RetiredReason) {
	for _, s := range m {
		s.Finalize(item, outcome, reason)
	}
}

func (m MultiSink) DiscoveryFailure(err error) {
	for _, s := range m {
		s.DiscoveryFailure(err)
	}
}
