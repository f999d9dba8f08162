// Package coord implements the coordinator: a single-goroutine actor that
// owns the delayed work queue and the checkout tracker, hands test classes
// out to runners, and applies the retry/timeout policy.
package coord

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/me/classq/internal/queue"
	"github.com/me/classq/internal/report"
	"github.com/me/classq/pkg/model"
)

// Config holds the coordinator's retry and timeout policy.
type Config struct {
	// MaxFailures and MaxTimeouts are independent budgets. Reaching either
	// retires the class regardless of the other counter.
	MaxFailures int
	MaxTimeouts int

	// RunnerTimeout is the deadline armed for each checkout.
	RunnerTimeout time.Duration
}

// DefaultConfig returns the default policy: one retry per budget.
func DefaultConfig() Config {
	return Config{
		MaxFailures:   2,
		MaxTimeouts:   2,
		RunnerTimeout: 5 * time.Minute,
	}
}

// tracked is the coordinator's per-item bookkeeping.
type tracked struct {
	item  *model.Item
	state model.ItemState

	// heldBy and remaining describe the current attempt while CHECKED_OUT.
	heldBy    string
	remaining map[string]bool // methods not yet reported passing

	finalOutcome  model.FinalOutcome
	retiredReason model.RetiredReason
}

// Scheduler coordinates work distribution across runners.
//
// All state lives behind a single goroutine draining cmds; external calls and
// timer callbacks alike execute as closures on that goroutine, so transitions
// are strictly serialized and the core needs no locks.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	sink   report.Sink

	cmds chan func()
	quit chan struct{}

	// Everything below is owned by the loop goroutine.
	queue   *queue.AsyncDelayedQueue
	tracker *Tracker
	items   map[string]*tracked

	runID       string
	startedAt   time.Time
	started     bool // discovery outcome received
	outstanding int  // items not yet finalized

	discoveryFailed bool
	discoveryErr    string
	shutdown        bool
}

// NewScheduler creates a Scheduler and starts its loop goroutine.
func NewScheduler(cfg Config, sink report.Sink, logger *slog.Logger) *Scheduler {
	return NewSchedulerWithSinkFactory(cfg, func(string) report.Sink { return sink }, logger)
}

// NewSchedulerWithSinkFactory is like NewScheduler but lets the sink capture
// the run ID, which is only assigned here.
func NewSchedulerWithSinkFactory(cfg Config, makeSink func(runID string) report.Sink, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		logger:    logger.With("component", "coordinator"),
		cmds:      make(chan func(), 128),
		quit:      make(chan struct{}),
		items:     make(map[string]*tracked),
		runID:     "run_" + uuid.New().String()[:8],
		startedAt: time.Now().UTC(),
	}
	s.sink = makeSink(s.runID)
	s.queue = queue.New(s.post)
	s.tracker = NewTracker(s.post, s.onDeadlineFired)
	go s.loop()
	return s
}

// RunID returns the identifier assigned to this coordinator run.
func (s *Scheduler) RunID() string {
	return s.runID
}

func (s *Scheduler) loop() {
	for {
		select {
		case f := <-s.cmds:
			f()
		case <-s.quit:
			return
		}
	}
}

// post schedules f on the loop goroutine without waiting for it.
func (s *Scheduler) post(f func()) {
	select {
	case s.cmds <- f:
	case <-s.quit:
	}
}

// do runs f on the loop goroutine and waits for it to finish. Returns false
// if the loop has stopped and f never ran.
func (s *Scheduler) do(f func()) bool {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { f(); close(done) }:
	case <-s.quit:
		return false
	}
	select {
	case <-done:
		return true
	case <-s.quit:
		return false
	}
}

// Stop terminates the loop goroutine. Call Shutdown first for an orderly
// wind-down; Stop exists so tests and mains can release the goroutine.
func (s *Scheduler) Stop() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}

// EnqueueDiscovered accepts the discovered unit list, exactly once at
// startup. Every item starts QUEUED with zero delay. An empty list closes
// the queue immediately so all runners promptly receive empty.
func (s *Scheduler) EnqueueDiscovered(items []*model.Item) {
	s.do(func() {
		if s.started {
			s.logger.Warn("discovery delivered twice; ignoring")
			return
		}
		s.started = true
		for _, it := range items {
			if _, dup := s.items[it.ClassPath]; dup {
				s.logger.Warn("duplicate class in discovery", "class_path", it.ClassPath)
				continue
			}
			s.items[it.ClassPath] = &tracked{item: it, state: model.ItemStateQueued}
			s.outstanding++
			s.queue.Put(0, it)
		}
		s.logger.Info("work enqueued", "run_id", s.runID, "classes", s.outstanding)
		s.maybeClose()
	})
}

// DiscoveryFailure records that the suite failed to enumerate. The failure is
// surfaced once through the sink; the run proceeds with an empty queue.
func (s *Scheduler) DiscoveryFailure(err error) {
	s.do(func() {
		if s.started {
			return
		}
		s.started = true
		s.discoveryFailed = true
		s.discoveryErr = err.Error()
		s.logger.Error("discovery failed", "error", err)
		s.sink.DiscoveryFailure(err)
		s.maybeClose()
	})
}

// RequestWork hands the next available class to runnerID, arming its
// deadline. Returns nil when the queue is closed (suite exhausted or
// shutdown) or ctx is cancelled; nil is a normal result, not an error.
//
// The call suspends only its own caller while it waits for work; the
// coordinator goroutine keeps serving other requests.
func (s *Scheduler) RequestWork(ctx context.Context, runnerID string) *model.Item {
	var ch <-chan *model.Item
	if !s.do(func() { ch = s.queue.TakeNext(ctx, runnerID) }) {
		return nil
	}
	it := <-ch
	if it == nil {
		return nil
	}
	s.do(func() { s.checkout(runnerID, it) })
	return it
}

// checkout transitions a dequeued item to CHECKED_OUT under runnerID.
func (s *Scheduler) checkout(runnerID string, it *model.Item) {
	tr := s.items[it.ClassPath]
	if tr == nil {
		return
	}
	tr.state = model.ItemStateCheckedOut
	tr.heldBy = runnerID
	tr.remaining = make(map[string]bool, len(it.Methods))
	for _, m := range it.Methods {
		tr.remaining[m] = true
	}
	it.LastRunner = runnerID

	if s.shutdown {
		// Dequeued just ahead of shutdown; hand it out but arm no deadline.
		// Whatever the runner reports will be ignored as stale.
		return
	}
	c := s.tracker.Arm(runnerID, it.ClassPath, s.cfg.RunnerTimeout)
	s.logger.Debug("class checked out",
		"class_path", it.ClassPath,
		"runner_id", runnerID,
		"deadline", c.Deadline,
	)
}

// ReportResult records one per-method outcome.
//
// A failing method is a class-level failure: the failure budget is charged
// and the class is retired or requeued immediately. The last outstanding
// method passing completes the class. Reports for a class with no live
// checkout held by this runner are stale (a timeout already reclaimed it, or
// the class is finished) and are silently ignored.
func (s *Scheduler) ReportResult(res model.MethodResult) {
	s.do(func() {
		tr := s.items[res.ClassPath]
		c, live := s.tracker.Live(res.ClassPath)
		if tr == nil || tr.state != model.ItemStateCheckedOut || !live || c.RunnerID != res.RunnerID {
			s.logger.Debug("stale result ignored",
				"class_path", res.ClassPath,
				"method", res.Method,
				"runner_id", res.RunnerID,
			)
			return
		}

		s.sink.Result(res)

		if res.Outcome.IsFailure() {
			s.tracker.Disarm(c)
			tr.item.FailureCount++
			s.logger.Info("class failed",
				"class_path", res.ClassPath,
				"method", res.Method,
				"runner_id", res.RunnerID,
				"failure_count", tr.item.FailureCount,
			)
			if tr.item.FailureCount >= s.cfg.MaxFailures {
				s.retire(tr, model.RetiredMaxFailures)
			} else {
				s.requeue(tr)
			}
			return
		}

		delete(tr.remaining, res.Method)
		if len(tr.remaining) == 0 {
			s.tracker.Disarm(c)
			s.complete(tr)
		}
	})
}

// CheckInClass is the explicit check-in. With timedOut it applies the same
// policy as a fired deadline, invocable out of band by a watchdog. Without
// it, the checkout is disarmed and nothing else changes: completion is
// reported through ReportResult, never through check-in, so the call cannot
// double-count. Check-ins with no matching live checkout are ignored.
func (s *Scheduler) CheckInClass(runnerID, classPath string, timedOut bool) {
	s.do(func() {
		c, live := s.tracker.Live(classPath)
		if !live || c.RunnerID != runnerID {
			s.logger.Debug("stale check-in ignored",
				"class_path", classPath,
				"runner_id", runnerID,
				"timed_out", timedOut,
			)
			return
		}
		s.tracker.Disarm(c)
		if timedOut {
			s.applyTimeout(runnerID, classPath)
		}
	})
}

// onDeadlineFired is the tracker's deadline callback. The tracker has already
// removed the checkout; a check-in that won the race leaves nothing to do.
func (s *Scheduler) onDeadlineFired(runnerID, classPath string) {
	s.logger.Info("checkout deadline fired", "class_path", classPath, "runner_id", runnerID)
	s.applyTimeout(runnerID, classPath)
}

// applyTimeout charges the timeout budget and retires or requeues. Runs on
// the loop goroutine with the checkout already disarmed.
func (s *Scheduler) applyTimeout(runnerID, classPath string) {
	tr := s.items[classPath]
	if tr == nil || tr.state != model.ItemStateCheckedOut || tr.heldBy != runnerID {
		return
	}
	tr.item.TimeoutCount++
	if tr.item.TimeoutCount >= s.cfg.MaxTimeouts {
		s.retire(tr, model.RetiredMaxTimeouts)
	} else {
		s.requeue(tr)
	}
}

// requeue returns an item to the eligible pool with zero delay.
func (s *Scheduler) requeue(tr *tracked) {
	tr.state = model.ItemStateQueued
	tr.heldBy = ""
	tr.remaining = nil
	s.queue.Put(0, tr.item)
}

// retire permanently removes an item after exhausting a budget. Finalized
// exactly once: retire is reachable only from CHECKED_OUT.
func (s *Scheduler) retire(tr *tracked, reason model.RetiredReason) {
	tr.state = model.ItemStateRetired
	tr.heldBy = ""
	tr.remaining = nil
	tr.finalOutcome = model.FinalRetired
	tr.retiredReason = reason
	s.outstanding--
	s.logger.Info("class retired",
		"class_path", tr.item.ClassPath,
		"reason", reason,
		"failure_count", tr.item.FailureCount,
		"timeout_count", tr.item.TimeoutCount,
	)
	s.sink.Finalize(tr.item, model.FinalRetired, reason)
	s.maybeClose()
}

// complete marks an item passed. Finalized exactly once, same as retire.
func (s *Scheduler) complete(tr *tracked) {
	tr.state = model.ItemStateCompleted
	tr.heldBy = ""
	tr.remaining = nil
	tr.finalOutcome = model.FinalCompleted
	s.outstanding--
	s.logger.Info("class completed", "class_path", tr.item.ClassPath)
	s.sink.Finalize(tr.item, model.FinalCompleted, "")
	s.maybeClose()
}

// maybeClose closes the queue once discovery has run and no item remains
// outstanding, resolving every pending and future work request to empty.
func (s *Scheduler) maybeClose() {
	if s.started && s.outstanding == 0 && !s.queue.Closed() {
		s.queue.Close()
		s.logger.Info("all work finalized; queue closed", "run_id", s.runID)
	}
}

// Shutdown closes the queue and disarms every live checkout without
// penalizing their items: no counters move and nothing is finalized.
// Shutdown is not a timeout.
func (s *Scheduler) Shutdown() {
	s.do(func() {
		if s.shutdown {
			return
		}
		s.shutdown = true
		s.tracker.DisarmAll()
		s.queue.Close()
		s.logger.Info("coordinator shut down", "run_id", s.runID, "outstanding", s.outstanding)
	})
}

// Status returns a snapshot of the run for the status endpoint and CLI.
func (s *Scheduler) Status() model.RunStatus {
	var st model.RunStatus
	s.do(func() {
		st = model.RunStatus{
			RunID:           s.runID,
			StartedAt:       s.startedAt,
			QueueClosed:     s.queue.Closed(),
			Discovered:      len(s.items),
			Outstanding:     s.outstanding,
			DiscoveryFailed: s.discoveryFailed,
			DiscoveryError:  s.discoveryErr,
		}
		for _, tr := range s.items {
			switch tr.state {
			case model.ItemStateQueued:
				st.Queued++
			case model.ItemStateCheckedOut:
				st.CheckedOut++
			case model.ItemStateCompleted:
				st.Completed++
			case model.ItemStateRetired:
				st.Retired++
			}
		}
	})
	return st
}

// Items returns the read-side view of every discovered item.
func (s *Scheduler) Items() []model.ItemStatus {
	var out []model.ItemStatus
	s.do(func() {
		out = make([]model.ItemStatus, 0, len(s.items))
		for _, tr := range s.items {
			out = append(out, model.ItemStatus{
				Item:          *tr.item,
				State:         tr.state,
				HeldBy:        tr.heldBy,
				FinalOutcome:  tr.finalOutcome,
				RetiredReason: tr.retiredReason,
			})
		}
		sort.Slice(out, func(i, j int) bool {
			return out[i].Item.ClassPath < out[j].Item.ClassPath
		})
	})
	return out
}
