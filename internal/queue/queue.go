// Package queue implements the delayed work queue the coordinator hands test
// classes out of. Entries become eligible once their availability time has
// passed; takers suspend until an entry is eligible or the queue is closed.
package queue

import (
	"container/heap"
	"context"
	"time"

	"github.com/me/classq/pkg/model"
)

// AsyncDelayedQueue is a priority queue of items keyed by availability time.
//
// The queue is not internally synchronized. All methods must be called from
// the single goroutine that owns it; wake-ups from delay timers re-enter
// through the post function supplied at construction, so they land on the
// same goroutine.
type AsyncDelayedQueue struct {
	post    func(func())
	entries entryHeap
	waiters []*waiter
	seq     uint64
	closed  bool
	wake    *time.Timer
}

type entry struct {
	availableAt time.Time
	seq         uint64 // insertion order; FIFO tie-break for equal availability
	item        *model.Item
}

type waiter struct {
	requesterID string
	ch          chan *model.Item
	done        chan struct{}
}

// New creates an AsyncDelayedQueue. post marshals delay-timer callbacks onto
// the owning goroutine; it must serialize the closure with every other call
// into the queue.
func New(post func(func())) *AsyncDelayedQueue {
	return &AsyncDelayedQueue{post: post}
}

// Put inserts item, eligible at now + delay. A zero delay means immediately
// eligible. Put never fails; inserting into a closed queue is a no-op.
func (q *AsyncDelayedQueue) Put(delay time.Duration, item *model.Item) {
	if q.closed {
		return
	}
	e := &entry{availableAt: time.Now().Add(delay), seq: q.seq, item: item}
	q.seq++
	heap.Push(&q.entries, e)
	q.dispatch()
}

// TakeNext asynchronously takes the next available item for requesterID.
//
// The returned channel receives exactly one value: the earliest eligible item
// whose LastRunner differs from requesterID if one exists, otherwise the
// earliest eligible item outright (anti-affinity is best effort: a lone
// runner must receive its own just-relinquished work rather than starve), or
// nil once the queue is closed. The decision is made in one pass over the
// currently eligible entries; the queue never re-enters itself to retry a
// request, which is what rules out unbounded restarts when every remaining
// item belongs to the requester.
//
// Cancelling ctx resolves the channel with nil and releases the waiter.
func (q *AsyncDelayedQueue) TakeNext(ctx context.Context, requesterID string) <-chan *model.Item {
	w := &waiter{
		requesterID: requesterID,
		ch:          make(chan *model.Item, 1),
		done:        make(chan struct{}),
	}

	if q.closed {
		q.resolve(w, nil)
		return w.ch
	}

	q.waiters = append(q.waiters, w)
	q.dispatch()

	if ctx != nil {
		select {
		case <-w.done:
			// Resolved synchronously; no watcher needed.
		default:
			go q.watchCancel(ctx, w)
		}
	}
	return w.ch
}

// Close resolves every pending take with nil and makes all subsequent takes
// resolve nil immediately. Used for orderly shutdown; idempotent.
func (q *AsyncDelayedQueue) Close() {
	if q.closed {
		return
	}
	q.closed = true
	if q.wake != nil {
		q.wake.Stop()
		q.wake = nil
	}
	for _, w := range q.waiters {
		q.resolve(w, nil)
	}
	q.waiters = nil
}

// Closed reports whether Close has been called.
func (q *AsyncDelayedQueue) Closed() bool {
	return q.closed
}

// Len returns the number of entries currently held, eligible or not.
func (q *AsyncDelayedQueue) Len() int {
	return q.entries.Len()
}

// dispatch matches eligible entries to pending waiters, oldest waiter first,
// then re-arms the wake timer for the earliest future entry if anyone is
// still waiting.
func (q *AsyncDelayedQueue) dispatch() {
	now := time.Now()
	for len(q.waiters) > 0 {
		w := q.waiters[0]
		item, ok := q.takeEligible(now, w.requesterID)
		if !ok {
			break
		}
		q.waiters = q.waiters[1:]
		q.resolve(w, item)
	}
	q.armWake(now)
}

// takeEligible removes and returns the earliest eligible entry, preferring
// one not last held by requesterID. Returns false if nothing is eligible.
func (q *AsyncDelayedQueue) takeEligible(now time.Time, requesterID string) (*model.Item, bool) {
	// Pop the eligible prefix in order, pick the first non-self entry (or
	// fall back to the very first), and push the rest back.
	var popped []*entry
	pick := -1
	for q.entries.Len() > 0 && !q.entries[0].availableAt.After(now) {
		e := heap.Pop(&q.entries).(*entry)
		popped = append(popped, e)
		if e.item.LastRunner != requesterID {
			pick = len(popped) - 1
			break
		}
	}
	if len(popped) == 0 {
		return nil, false
	}
	if pick < 0 {
		pick = 0
	}
	item := popped[pick].item
	for i, e := range popped {
		if i != pick {
			heap.Push(&q.entries, e)
		}
	}
	return item, true
}

func (q *AsyncDelayedQueue) armWake(now time.Time) {
	if q.wake != nil {
		q.wake.Stop()
		q.wake = nil
	}
	if q.closed || len(q.waiters) == 0 || q.entries.Len() == 0 {
		return
	}
	delay := q.entries[0].availableAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	q.wake = time.AfterFunc(delay, func() {
		q.post(func() {
			if !q.closed {
				q.dispatch()
			}
		})
	})
}

func (q *AsyncDelayedQueue) resolve(w *waiter, item *model.Item) {
	select {
	case <-w.done:
		return // already resolved or cancelled
	default:
	}
	w.ch <- item
	close(w.done)
}

// watchCancel resolves w with nil if ctx is cancelled before the queue
// resolves it. The actual state mutation is marshalled back onto the owner.
func (q *AsyncDelayedQueue) watchCancel(ctx context.Context, w *waiter) {
	select {
	case <-w.done:
	case <-ctx.Done():
		q.post(func() {
			for i, pending := range q.waiters {
				if pending == w {
					q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
					break
				}
			}
			q.resolve(w, nil)
		})
	}
}

// entryHeap orders entries by (availableAt, insertion sequence).
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].availableAt.Equal(h[j].availableAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].availableAt.Before(h[j].availableAt)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push adds an entry. Called by heap.Push.
func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(*entry))
}

// Pop removes and returns the earliest entry. Called by heap.Pop.
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return e
}
