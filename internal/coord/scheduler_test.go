package coord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/me/classq/internal/logging"
	"github.com/me/classq/pkg/model"
)

// recordSink records every sink call. Finalize/Result can arrive from the
// coordinator goroutine (deadline-driven), so access is guarded.
type recordSink struct {
	mu        sync.Mutex
	results   []model.MethodResult
	finals    []finalRec
	discovery []error
}

type finalRec struct {
	classPath string
	outcome   model.FinalOutcome
	reason    model.RetiredReason
}

func (r *recordSink) Result(res model.MethodResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recordSink) Finalize(item *model.Item, outcome model.FinalOutcome, reason model.RetiredReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finals = append(r.finals, finalRec{item.ClassPath, outcome, reason})
}

func (r *recordSink) DiscoveryFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovery = append(r.discovery, err)
}

func (r *recordSink) finalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.finals)
}

func (r *recordSink) lastFinal(t *testing.T) finalRec {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.finals) == 0 {
		t.Fatal("no finalize calls recorded")
	}
	return r.finals[len(r.finals)-1]
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *recordSink) {
	t.Helper()
	sink := &recordSink{}
	s := NewScheduler(cfg, sink, logging.Discard())
	t.Cleanup(s.Stop)
	return s, sink
}

func testConfig() Config {
	return Config{MaxFailures: 2, MaxTimeouts: 2, RunnerTimeout: time.Minute}
}

func oneClass() []*model.Item {
	return []*model.Item{{
		ClassPath:      "test.dummy DummyTestCase",
		Methods:        []string{"test"},
		FixtureMethods: []string{"classSetUp", "classTearDown"},
	}}
}

// request asks for work with a bounded wait so a hang fails the test instead
// of blocking it.
func request(t *testing.T, s *Scheduler, runnerID string, wait time.Duration) *model.Item {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return s.RequestWork(ctx, runnerID)
}

func reportOne(s *Scheduler, runnerID, classPath, method string, outcome model.Outcome) {
	s.ReportResult(model.MethodResult{
		RunnerID:   runnerID,
		ClassPath:  classPath,
		Method:     method,
		Outcome:    outcome,
		ReportedAt: time.Now().UTC(),
	})
}

// runAllPassing reports every method of it passing, as a well-behaved runner
// would, then checks the class in.
func runAllPassing(s *Scheduler, runnerID string, it *model.Item) {
	for _, m := range it.Methods {
		reportOne(s, runnerID, it.ClassPath, m, model.OutcomePass)
	}
	s.CheckInClass(runnerID, it.ClassPath, false)
}

// A passing class is handed out exactly once.
func TestPassingClassRunsOnlyOnce(t *testing.T) {
	s, sink := newTestScheduler(t, testConfig())
	s.EnqueueDiscovered(oneClass())

	first := request(t, s, "runner1", time.Second)
	if first == nil {
		t.Fatal("runner1 got no work")
	}
	if first.ClassPath != "test.dummy DummyTestCase" {
		t.Errorf("ClassPath = %q", first.ClassPath)
	}
	if len(first.Methods) != 1 || first.Methods[0] != "test" {
		t.Errorf("Methods = %v, want [test]", first.Methods)
	}

	runAllPassing(s, "runner1", first)

	if second := request(t, s, "runner2", time.Second); second != nil {
		t.Errorf("completed class handed out again: %v", second.ClassPath)
	}

	f := sink.lastFinal(t)
	if f.outcome != model.FinalCompleted {
		t.Errorf("final outcome = %v, want completed", f.outcome)
	}
	if n := sink.finalCount(); n != 1 {
		t.Errorf("finalize called %d times, want 1", n)
	}
}

// Two failures exhaust the failure budget.
func TestRequeueOnFailure(t *testing.T) {
	s, sink := newTestScheduler(t, testConfig())
	s.EnqueueDiscovered(oneClass())

	first := request(t, s, "runner1", time.Second)
	if first == nil {
		t.Fatal("runner1 got no work")
	}
	reportOne(s, "runner1", first.ClassPath, "test", model.OutcomeFail)

	second := request(t, s, "runner2", time.Second)
	if second == nil {
		t.Fatal("failed class was not requeued")
	}
	if second.ClassPath != first.ClassPath {
		t.Errorf("requeued class = %q, want %q", second.ClassPath, first.ClassPath)
	}
	reportOne(s, "runner2", second.ClassPath, "test", model.OutcomeFail)

	if third := request(t, s, "runner3", time.Second); third != nil {
		t.Errorf("retired class handed out again: %v", third.ClassPath)
	}

	f := sink.lastFinal(t)
	if f.outcome != model.FinalRetired || f.reason != model.RetiredMaxFailures {
		t.Errorf("final = %+v, want retired/max_failures", f)
	}
}

// Two timeouts exhaust the timeout budget. Timeouts are signalled
// out of band, the watchdog path.
func TestRequeueOnTimeout(t *testing.T) {
	s, sink := newTestScheduler(t, testConfig())
	s.EnqueueDiscovered(oneClass())

	first := request(t, s, "runner1", time.Second)
	if first == nil {
		t.Fatal("runner1 got no work")
	}
	s.CheckInClass("runner1", first.ClassPath, true)

	second := request(t, s, "runner2", time.Second)
	if second == nil {
		t.Fatal("timed-out class was not requeued")
	}
	if second.ClassPath != first.ClassPath || len(second.Methods) != len(first.Methods) {
		t.Errorf("requeued class %q/%v, want %q/%v", second.ClassPath, second.Methods, first.ClassPath, first.Methods)
	}
	s.CheckInClass("runner2", second.ClassPath, true)

	if third := request(t, s, "runner3", time.Second); third != nil {
		t.Errorf("retired class handed out again: %v", third.ClassPath)
	}

	f := sink.lastFinal(t)
	if f.outcome != model.FinalRetired || f.reason != model.RetiredMaxTimeouts {
		t.Errorf("final = %+v, want retired/max_timeouts", f)
	}
}

// Budgets are independent: one failure plus two timeouts retires
// on the timeout budget, the failure count notwithstanding.
func TestFailThenTimeoutTwice(t *testing.T) {
	s, sink := newTestScheduler(t, testConfig())
	s.EnqueueDiscovered(oneClass())

	first := request(t, s, "runner1", time.Second)
	reportOne(s, "runner1", first.ClassPath, "test", model.OutcomeFail)

	second := request(t, s, "runner2", time.Second)
	s.CheckInClass("runner2", second.ClassPath, true)

	third := request(t, s, "runner3", time.Second)
	s.CheckInClass("runner3", third.ClassPath, true)

	for i, it := range []*model.Item{first, second, third} {
		if it == nil {
			t.Fatalf("request %d returned empty", i+1)
		}
		if it.ClassPath != first.ClassPath {
			t.Errorf("request %d class = %q, want %q", i+1, it.ClassPath, first.ClassPath)
		}
	}

	if fourth := request(t, s, "runner4", time.Second); fourth != nil {
		t.Errorf("retired class handed out again: %v", fourth.ClassPath)
	}

	f := sink.lastFinal(t)
	if f.reason != model.RetiredMaxTimeouts {
		t.Errorf("retired reason = %v, want max_timeouts", f.reason)
	}
}

func TestTimeoutThenFailTwice(t *testing.T) {
	s, sink := newTestScheduler(t, testConfig())
	s.EnqueueDiscovered(oneClass())

	first := request(t, s, "runner1", time.Second)
	s.CheckInClass("runner1", first.ClassPath, true)

	second := request(t, s, "runner2", time.Second)
	reportOne(s, "runner2", second.ClassPath, "test", model.OutcomeFail)

	third := request(t, s, "runner3", time.Second)
	reportOne(s, "runner3", third.ClassPath, "test", model.OutcomeFail)

	if fourth := request(t, s, "runner4", time.Second); fourth != nil {
		t.Errorf("retired class handed out again: %v", fourth.ClassPath)
	}

	f := sink.lastFinal(t)
	if f.reason != model.RetiredMaxFailures {
		t.Errorf("retired reason = %v, want max_failures", f.reason)
	}
}

// A request from the runner that owns every queued item must
// still resolve instead of spinning or hanging.
func TestRequestWorkDoesNotLoopForever(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig())
	s.EnqueueDiscovered([]*model.Item{
		{ClassPath: "1", Methods: []string{"blah"}, LastRunner: "foo"},
		{ClassPath: "2", Methods: []string{"blah"}, LastRunner: "foo"},
		{ClassPath: "3", Methods: []string{"blah"}, LastRunner: "foo"},
	})

	// A second runner takes one, breaking the self-ownership tie.
	if it := request(t, s, "bar", time.Second); it == nil {
		t.Fatal("bar got no work")
	}

	done := make(chan *model.Item, 1)
	go func() { done <- request(t, s, "foo", 500*time.Millisecond) }()

	select {
	case it := <-done:
		if it == nil {
			t.Error("foo's request resolved empty with self-owned items queued")
		}
	case <-time.After(time.Second):
		t.Fatal("foo's request is still running")
	}
}

// A real deadline firing must reclaim the class for another runner.
func TestDeadlineFiresAndRequeues(t *testing.T) {
	cfg := testConfig()
	cfg.RunnerTimeout = 40 * time.Millisecond
	s, _ := newTestScheduler(t, cfg)
	s.EnqueueDiscovered(oneClass())

	first := request(t, s, "runner1", time.Second)
	if first == nil {
		t.Fatal("runner1 got no work")
	}
	// runner1 goes silent; the deadline reaper hands the class to runner2.
	second := request(t, s, "runner2", time.Second)
	if second == nil {
		t.Fatal("class was not reclaimed after the deadline fired")
	}
	if second.ClassPath != first.ClassPath {
		t.Errorf("reclaimed class = %q, want %q", second.ClassPath, first.ClassPath)
	}
	if second.TimeoutCount != 1 {
		t.Errorf("TimeoutCount = %d, want 1", second.TimeoutCount)
	}
}

// Reports arriving after a timeout reclaimed the class are stale and must
// neither move counters nor resurrect the item for the old runner.
func TestStaleReportIgnored(t *testing.T) {
	s, sink := newTestScheduler(t, testConfig())
	s.EnqueueDiscovered(oneClass())

	first := request(t, s, "runner1", time.Second)
	s.CheckInClass("runner1", first.ClassPath, true)

	// runner1 wakes up late and reports a failure.
	reportOne(s, "runner1", first.ClassPath, "test", model.OutcomeFail)

	second := request(t, s, "runner2", time.Second)
	if second == nil {
		t.Fatal("runner2 got no work")
	}
	if second.FailureCount != 0 {
		t.Errorf("stale failure was counted: FailureCount = %d", second.FailureCount)
	}

	runAllPassing(s, "runner2", second)

	if n := sink.finalCount(); n != 1 {
		t.Errorf("finalize called %d times, want 1", n)
	}
	if f := sink.lastFinal(t); f.outcome != model.FinalCompleted {
		t.Errorf("final outcome = %v, want completed", f.outcome)
	}

	// A duplicate report after completion is likewise ignored.
	reportOne(s, "runner2", second.ClassPath, "test", model.OutcomePass)
	if n := sink.finalCount(); n != 1 {
		t.Errorf("finalize called %d times after duplicate report, want 1", n)
	}
}

// At most one live checkout per class: a second runner's request waits while
// the class is held.
func TestSingleOwnership(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig())
	s.EnqueueDiscovered(oneClass())

	first := request(t, s, "runner1", time.Second)
	if first == nil {
		t.Fatal("runner1 got no work")
	}

	if it := request(t, s, "runner2", 100*time.Millisecond); it != nil {
		t.Errorf("class handed to runner2 while held by runner1: %v", it.ClassPath)
	}
}

// A multi-method class completes only when the last method passes.
func TestCompletionRequiresAllMethods(t *testing.T) {
	s, sink := newTestScheduler(t, testConfig())
	s.EnqueueDiscovered([]*model.Item{{
		ClassPath: "test.multi MultiCase",
		Methods:   []string{"test_a", "test_b", "test_c"},
	}})

	it := request(t, s, "runner1", time.Second)
	reportOne(s, "runner1", it.ClassPath, "test_a", model.OutcomePass)
	reportOne(s, "runner1", it.ClassPath, "test_b", model.OutcomePass)

	if n := sink.finalCount(); n != 0 {
		t.Fatalf("finalized after %d of 3 methods", 2)
	}

	reportOne(s, "runner1", it.ClassPath, "test_c", model.OutcomePass)

	if n := sink.finalCount(); n != 1 {
		t.Errorf("finalize called %d times, want 1", n)
	}
}

// An error outcome charges the failure budget the same as a fail.
func TestErrorOutcomeCountsAsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFailures = 1
	s, sink := newTestScheduler(t, cfg)
	s.EnqueueDiscovered(oneClass())

	it := request(t, s, "runner1", time.Second)
	reportOne(s, "runner1", it.ClassPath, "test", model.OutcomeError)

	f := sink.lastFinal(t)
	if f.outcome != model.FinalRetired || f.reason != model.RetiredMaxFailures {
		t.Errorf("final = %+v, want retired/max_failures", f)
	}
}

// Explicit check-in without timedOut disarms the deadline and nothing else.
func TestCheckInWithoutTimeoutLeavesCountersAlone(t *testing.T) {
	s, sink := newTestScheduler(t, testConfig())
	s.EnqueueDiscovered(oneClass())

	it := request(t, s, "runner1", time.Second)
	s.CheckInClass("runner1", it.ClassPath, false)

	if it.FailureCount != 0 || it.TimeoutCount != 0 {
		t.Errorf("counters moved: failures=%d timeouts=%d", it.FailureCount, it.TimeoutCount)
	}
	if n := sink.finalCount(); n != 0 {
		t.Errorf("finalize called %d times, want 0", n)
	}
}

func TestDiscoveryFailureReportedOnce(t *testing.T) {
	s, sink := newTestScheduler(t, testConfig())
	s.DiscoveryFailure(errors.New("broken import: test.broken"))

	sink.mu.Lock()
	n := len(sink.discovery)
	sink.mu.Unlock()
	if n != 1 {
		t.Errorf("discovery failure reported %d times, want 1", n)
	}

	// The run proceeds with an empty queue; every request resolves empty.
	if it := request(t, s, "runner1", time.Second); it != nil {
		t.Errorf("got work after discovery failure: %v", it.ClassPath)
	}

	st := s.Status()
	if !st.DiscoveryFailed || !st.QueueClosed {
		t.Errorf("status = %+v, want discovery_failed and queue_closed", st)
	}
}

// Shutdown abandons in-flight checkouts without penalty and resolves pending
// requests to empty.
func TestShutdownWithoutPenalty(t *testing.T) {
	s, sink := newTestScheduler(t, testConfig())
	s.EnqueueDiscovered(oneClass())

	it := request(t, s, "runner1", time.Second)
	if it == nil {
		t.Fatal("runner1 got no work")
	}

	pending := make(chan *model.Item, 1)
	go func() { pending <- s.RequestWork(context.Background(), "runner2") }()

	time.Sleep(20 * time.Millisecond)
	s.Shutdown()

	select {
	case got := <-pending:
		if got != nil {
			t.Errorf("pending request resolved %v after shutdown, want empty", got.ClassPath)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request did not resolve on shutdown")
	}

	if it.FailureCount != 0 || it.TimeoutCount != 0 {
		t.Errorf("shutdown penalized the item: failures=%d timeouts=%d", it.FailureCount, it.TimeoutCount)
	}
	if n := sink.finalCount(); n != 0 {
		t.Errorf("finalize called %d times during shutdown, want 0", n)
	}
}

func TestStatusCounts(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig())
	s.EnqueueDiscovered([]*model.Item{
		{ClassPath: "a", Methods: []string{"t"}},
		{ClassPath: "b", Methods: []string{"t"}},
		{ClassPath: "c", Methods: []string{"t"}},
	})

	it := request(t, s, "runner1", time.Second)
	runAllPassing(s, "runner1", it)

	st := s.Status()
	if st.Discovered != 3 || st.Completed != 1 || st.Queued != 2 || st.Outstanding != 2 {
		t.Errorf("status = %+v", st)
	}
	if st.QueueClosed {
		t.Error("queue closed with work outstanding")
	}
}
