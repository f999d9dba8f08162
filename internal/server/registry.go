package server

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/me/classq/pkg/model"
)

// Registry tracks the runner processes currently attached to the server.
// It is advisory bookkeeping for the status endpoints; the scheduler does
// not consult it.
type Registry struct {
	mu      sync.Mutex
	runners map[string]*model.Runner
	timeout time.Duration
}

// NewRegistry creates a registry. Runners whose last heartbeat is older
// than timeout are reported as gone.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		runners: make(map[string]*model.Runner),
		timeout: timeout,
	}
}

// Register adds a runner and returns its assigned ID.
func (r *Registry) Register(name, hostname string) *model.Runner {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	runner := &model.Runner{
		ID:           "rnr_" + uuid.New().String()[:8],
		Name:         name,
		Hostname:     hostname,
		State:        model.RunnerStateOnline,
		LastSeen:     now,
		RegisteredAt: now,
	}
	r.runners[runner.ID] = runner
	return runner
}

// Heartbeat refreshes a runner's last-seen time. Returns false for
// unknown runner IDs.
func (r *Registry) Heartbeat(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	runner, ok := r.runners[id]
	if !ok {
		return false
	}
	runner.LastSeen = time.Now().UTC()
	runner.State = model.RunnerStateOnline
	return true
}

// SetCurrent records which class a runner is working on. An empty class
// clears the field.
func (r *Registry) SetCurrent(id, classPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if runner, ok := r.runners[id]; ok {
		runner.CurrentClass = classPath
		runner.LastSeen = time.Now().UTC()
	}
}

// Get returns a copy of the runner with the given ID.
func (r *Registry) Get(id string) (model.Runner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runner, ok := r.runners[id]
	if !ok {
		return model.Runner{}, false
	}
	out := *runner
	r.applyState(&out)
	return out, true
}

// List returns copies of all known runners sorted by registration time.
func (r *Registry) List() []model.Runner {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Runner, 0, len(r.runners))
	for _, runner := range r.runners {
		cp := *runner
		r.applyState(&cp)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

func (r *Registry) applyState(runner *model.Runner) {
	if r.timeout > 0 && time.Since(runner.LastSeen) > r.timeout {
		runner.State = model.RunnerStateGone
	}
}
