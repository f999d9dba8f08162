package model

// ItemState represents the lifecycle state of an Item inside the coordinator.
type ItemState string

const (
	ItemStateQueued     ItemState = "QUEUED"
	ItemStateCheckedOut ItemState = "CHECKED_OUT"
	ItemStateCompleted  ItemState = "COMPLETED"
	ItemStateRetired    ItemState = "RETIRED"
)

// String returns the string representation of the item state.
func (s ItemState) String() string {
	return string(s)
}

// IsTerminal returns true if the item is in a final state. Terminal items are
// finalized through the report sink exactly once and never handed out again.
func (s ItemState) IsTerminal() bool {
	switch s {
	case ItemStateCompleted, ItemStateRetired:
		return true
	}
	return false
}

// ValidItemTransitions defines the allowed state transitions for Items.
// CHECKED_OUT→QUEUED is the requeue path after a failure or timeout that
// leaves budget remaining.
var ValidItemTransitions = map[ItemState][]ItemState{
	ItemStateQueued:     {ItemStateCheckedOut},
	ItemStateCheckedOut: {ItemStateQueued, ItemStateCompleted, ItemStateRetired},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s ItemState) CanTransitionTo(next ItemState) bool {
	for _, allowed := range ValidItemTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
