package mergequeue

import (
	"encoding/json"
	"fmt"
)

// State is the derived merge state of one loop in the queue.
type State int

const (
	StateQueued State = iota
	StateMerging
	StateMerged
	StateNeedsReview
	StateDiscarded
)

// String returns the wire label for the state.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateMerging:
		return "merging"
	case StateMerged:
		return "merged"
	case StateNeedsReview:
		return "needs_review"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	switch label {
	case "queued":
		*s = StateQueued
	case "merging":
		*s = StateMerging
	case "merged":
		*s = StateMerged
	case "needs_review":
		*s = StateNeedsReview
	case "discarded":
		*s = StateDiscarded
	default:
		return fmt.Errorf("unknown merge state: %s", label)
	}
	return nil
}
