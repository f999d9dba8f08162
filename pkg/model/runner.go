package model

import "time"

// RunnerState represents the reachability state of a registered runner.
type RunnerState string

const (
	RunnerStateOnline RunnerState = "online"
	RunnerStateGone   RunnerState = "gone"
)

// Runner is a registered remote runner process. The coordinator tracks only
// its identity and last contact; it never manages the process itself.
type Runner struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Hostname     string      `json:"hostname,omitempty"`
	State        RunnerState `json:"state"`
	CurrentClass string      `json:"current_class,omitempty"`
	LastSeen     time.Time   `json:"last_seen"`
	RegisteredAt time.Time   `json:"registered_at"`
}
