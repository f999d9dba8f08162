package store

import (
	"context"
	"time"

	"github.com/me/classq/pkg/model"
)

// Store defines the persistence layer for run results. Everything the
// coordinator finalizes ends up here; the read-side API and CLI query it.
type Store interface {
	// Run lifecycle
	CreateRun(ctx context.Context, runID string, startedAt time.Time) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time) error
	RecordDiscoveryFailure(ctx context.Context, runID, message string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context) ([]*Run, error)

	// Results
	InsertMethodResult(ctx context.Context, runID string, res model.MethodResult) error
	FinalizeItem(ctx context.Context, runID string, item *model.Item, outcome model.FinalOutcome, reason model.RetiredReason) error
	ListFinalized(ctx context.Context, runID string) ([]*model.FinalizedItem, error)
	ListMethodResults(ctx context.Context, runID, classPath string) ([]model.MethodResult, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Run is one coordinator run as recorded in the store.
type Run struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DiscoveryFailed bool       `json:"discovery_failed"`
	DiscoveryError  string     `json:"discovery_error,omitempty"`
}
