package coord

import (
	"time"
)

// Checkout is the live association between a runner and the class it holds.
// It doubles as the cancellation token for the armed deadline.
type Checkout struct {
	RunnerID  string
	ClassPath string
	Deadline  time.Time

	timer *time.Timer
}

// Tracker maps outstanding checkouts to deadlines and arms one cancellable
// timer per checkout. Like the queue it is not internally synchronized:
// Arm/Disarm run on the owning goroutine, and the deadline callback is
// marshalled back onto it through post, so a timer that fires while a
// check-in is being processed is strictly ordered after it.
type Tracker struct {
	post       func(func())
	onDeadline func(runnerID, classPath string)
	live       map[string]*Checkout // by classPath; at most one per class
}

// NewTracker creates a Tracker. onDeadline is invoked on the owning goroutine
// when a checkout's deadline fires without being disarmed first.
func NewTracker(post func(func()), onDeadline func(runnerID, classPath string)) *Tracker {
	return &Tracker{
		post:       post,
		onDeadline: onDeadline,
		live:       make(map[string]*Checkout),
	}
}

// Arm records a checkout with deadline now + timeout and schedules its
// deadline callback. The caller enforces single ownership: arming a class
// that already has a live checkout replaces it, which must not happen in
// correct operation.
func (t *Tracker) Arm(runnerID, classPath string, timeout time.Duration) *Checkout {
	c := &Checkout{
		RunnerID:  runnerID,
		ClassPath: classPath,
		Deadline:  time.Now().Add(timeout),
	}
	t.live[classPath] = c
	c.timer = time.AfterFunc(timeout, func() {
		t.post(func() { t.fire(c) })
	})
	return c
}

// fire delivers the deadline for c unless it was disarmed (or replaced) in
// the meantime. Runs on the owning goroutine.
func (t *Tracker) fire(c *Checkout) {
	if t.live[c.ClassPath] != c {
		return // disarmed just in time; the timer lost the race
	}
	delete(t.live, c.ClassPath)
	t.onDeadline(c.RunnerID, c.ClassPath)
}

// Disarm cancels c's pending deadline and removes the checkout. Idempotent:
// disarming an already-fired or already-disarmed token is a no-op, which
// guards the race between a just-in-time check-in and an about-to-fire timer.
func (t *Tracker) Disarm(c *Checkout) {
	if t.live[c.ClassPath] != c {
		return
	}
	c.timer.Stop()
	delete(t.live, c.ClassPath)
}

// DisarmAll cancels every live checkout without firing any deadline.
// Used at shutdown, where abandoning work carries no penalty.
func (t *Tracker) DisarmAll() {
	for _, c := range t.live {
		c.timer.Stop()
	}
	t.live = make(map[string]*Checkout)
}

// Live returns the live checkout for classPath, if any.
func (t *Tracker) Live(classPath string) (*Checkout, bool) {
	c, ok := t.live[classPath]
	return c, ok
}

// Count returns the number of live checkouts.
func (t *Tracker) Count() int {
	return len(t.live)
}
