package model

import "time"

// Item is one schedulable unit of work: a test class and the methods that
// belong to it. Items are created once by discovery and mutated only by the
// coordinator under checkout, check-in, and timeout events.
type Item struct {
	// ClassPath is the opaque identifier of the test class.
	ClassPath string `json:"class_path"`

	// Methods is the ordered list of test method names. Never empty.
	Methods []string `json:"methods"`

	// FixtureMethods carries setup/teardown identifiers opaquely alongside
	// Methods. The coordinator never interprets them.
	FixtureMethods []string `json:"fixture_methods,omitempty"`

	// LastRunner is the runner that most recently held this item, or empty
	// if it has never been assigned.
	LastRunner string `json:"last_runner,omitempty"`

	// FailureCount and TimeoutCount are independent retry budgets. Each is
	// monotonically non-decreasing; reaching either configured threshold
	// retires the item.
	FailureCount int `json:"failure_count"`
	TimeoutCount int `json:"timeout_count"`
}

// Outcome is the result of executing a single test method.
type Outcome string

const (
	OutcomePass  Outcome = "pass"
	OutcomeFail  Outcome = "fail"
	OutcomeError Outcome = "error"
)

// IsFailure reports whether the outcome counts against the class's failure
// budget. Both fail and error do.
func (o Outcome) IsFailure() bool {
	return o == OutcomeFail || o == OutcomeError
}

// Valid reports whether o is a recognized outcome value.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePass, OutcomeFail, OutcomeError:
		return true
	}
	return false
}

// MethodResult is a single per-method outcome reported by a runner.
type MethodResult struct {
	RunnerID   string    `json:"runner_id"`
	ClassPath  string    `json:"class_path"`
	Method     string    `json:"method"`
	Outcome    Outcome   `json:"outcome"`
	Message    string    `json:"message,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	ReportedAt time.Time `json:"reported_at"`
}

// FinalOutcome is the terminal disposition of an item.
type FinalOutcome string

const (
	FinalCompleted FinalOutcome = "completed"
	FinalRetired   FinalOutcome = "retired"
)

// RetiredReason says which budget retired an item.
type RetiredReason string

const (
	RetiredMaxFailures RetiredReason = "max_failures"
	RetiredMaxTimeouts RetiredReason = "max_timeouts"
)

// FinalizedItem is a persisted terminal disposition.
type FinalizedItem struct {
	RunID       string        `json:"run_id"`
	Item        Item          `json:"item"`
	Outcome     FinalOutcome  `json:"outcome"`
	Reason      RetiredReason `json:"reason,omitempty"`
	FinalizedAt time.Time     `json:"finalized_at"`
}
