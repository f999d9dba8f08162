package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// RunStatus summarizes a coordinator run for the status endpoint and CLI.
type RunStatus struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	QueueClosed bool      `json:"queue_closed"`

	Discovered  int `json:"discovered"`
	Queued      int `json:"queued"`
	CheckedOut  int `json:"checked_out"`
	Completed   int `json:"completed"`
	Retired     int `json:"retired"`
	Outstanding int `json:"outstanding"`

	DiscoveryFailed bool   `json:"discovery_failed"`
	DiscoveryError  string `json:"discovery_error,omitempty"`
}

// ItemStatus is the read-side view of one item's progress.
type ItemStatus struct {
	Item          Item          `json:"item"`
	State         ItemState     `json:"state"`
	HeldBy        string        `json:"held_by,omitempty"`
	FinalOutcome  FinalOutcome  `json:"final_outcome,omitempty"`
	RetiredReason RetiredReason `json:"retired_reason,omitempty"`
}
