package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/me/classq/internal/logging"
	"github.com/me/classq/internal/store"
	"github.com/me/classq/pkg/model"
)

func TestStoreSink_PersistsEvents(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := st.CreateRun(ctx, "run_1", time.Now().UTC()); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	sink := NewStoreSink(st, "run_1", logging.Discard())

	sink.Result(model.MethodResult{
		RunnerID:   "rnr_1",
		ClassPath:  "pkg.A",
		Method:     "test",
		Outcome:    model.OutcomePass,
		ReportedAt: time.Now().UTC(),
	})
	sink.Finalize(&model.Item{ClassPath: "pkg.A", Methods: []string{"test"}}, model.FinalCompleted, "")
	sink.DiscoveryFailure(errors.New("nope"))

	results, err := st.ListMethodResults(ctx, "run_1", "pkg.A")
	if err != nil {
		t.Fatalf("ListMethodResults: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d method results, want 1", len(results))
	}

	finals, err := st.ListFinalized(ctx, "run_1")
	if err != nil {
		t.Fatalf("ListFinalized: %v", err)
	}
	if len(finals) != 1 || finals[0].Outcome != model.FinalCompleted {
		t.Errorf("finalized = %+v", finals)
	}

	r, _ := st.GetRun(ctx, "run_1")
	if !r.DiscoveryFailed || r.DiscoveryError != "nope" {
		t.Errorf("run = %+v, want discovery failure recorded", r)
	}
}

type countSink struct {
	results, finals, discoveries int
}

func (c *countSink) Result(model.MethodResult) { c.results++ }
func (c *countSink) Finalize(*model.Item, model.FinalOutcome, model.RetiredReason) {
	c.finals++
}
func (c *countSink) DiscoveryFailure(error) { c.discoveries++ }

func TestMultiSink_FansOut(t *testing.T) {
	a, b := &countSink{}, &countSink{}
	m := MultiSink{a, b}

	m.Result(model.MethodResult{})
	m.Finalize(&model.Item{}, model.FinalCompleted, "")
	m.DiscoveryFailure(errors.New("x"))

	for i, s := range []*countSink{a, b} {
		if s.results != 1 || s.finals != 1 || s.discoveries != 1 {
			t.Errorf("sink %d counts = %+v, want all 1", i, *s)
		}
	}
}
