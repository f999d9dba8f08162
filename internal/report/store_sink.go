package report

import (
	"context"
	"log/slog"

	"github.com/me/classq/internal/store"
	"github.com/me/classq/pkg/model"
)

// StoreSink persists every event to the results store. Persistence failures
// are logged, never propagated: the coordinator's policy must not depend on
// the sink keeping up.
type StoreSink struct {
	store  store.Store
	runID  string
	logger *slog.Logger
}

// NewStoreSink creates a StoreSink writing under runID.
func NewStoreSink(st store.Store, runID string, logger *slog.Logger) *StoreSink {
	return &StoreSink{
		store:  st,
		runID:  runID,
		logger: logger.With("component", "report"),
	}
}

func (s *StoreSink) Result(res model.MethodResult) {
	if err := s.store.InsertMethodResult(context.Background(), s.runID, res); err != nil {
		s.logger.Error("persist method result", "class_path", res.ClassPath, "method", res.Method, "error", err)
	}
}

func (s *StoreSink) Finalize(item *model.Item, outcome model.FinalOutcome, reason model.RetiredReason) {
	if err := s.store.FinalizeItem(context.Background(), s.runID, item, outcome, reason); err != nil {
		s.logger.Error("persist finalized item", "class_path", item.ClassPath, "error", err)
	}
}

func (s *StoreSink) DiscoveryFailure(err error) {
	if dbErr := s.store.RecordDiscoveryFailure(context.Background(), s.runID, err.Error()); dbErr != nil {
		s.logger.Error("persist discovery failure", "error", dbErr)
	}
}
