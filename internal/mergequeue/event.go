package mergequeue

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Payload is the variant part of a merge event. Only the fields belonging
// to the Type are serialized.
type Payload struct {
	Type   State
	Prompt string
	PID    int
	Commit string
	Reason string
}

// Event is one record of the shared merge-queue log.
type Event struct {
	TS     time.Time `json:"ts"`
	LoopID string    `json:"loop_id"`
	Event  Payload   `json:"event"`
}

// MarshalJSON serializes only the fields belonging to the event's type.
func (p Payload) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": p.Type.String()}
	switch p.Type {
	case StateQueued:
		m["prompt"] = p.Prompt
	case StateMerging:
		m["pid"] = p.PID
	case StateMerged:
		m["commit"] = p.Commit
	case StateNeedsReview:
		m["reason"] = p.Reason
	case StateDiscarded:
		if p.Reason != "" {
			m["reason"] = p.Reason
		}
	default:
		return nil, fmt.Errorf("unknown merge event type %v", p.Type)
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type   State  `json:"type"`
		Prompt string `json:"prompt"`
		PID    int    `json:"pid"`
		Commit string `json:"commit"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Payload{
		Type:   raw.Type,
		Prompt: raw.Prompt,
		PID:    raw.PID,
		Commit: raw.Commit,
		Reason: raw.Reason,
	}
	return nil
}

// Entry is the derived merge status of one loop. Entries are never stored;
// they exist only as the fold of the event log.
type Entry struct {
	LoopID        string
	Prompt        string
	State         State
	QueuedAt      time.Time
	MergePID      int
	MergeCommit   string
	FailureReason string
	DiscardReason string
}

// DeriveState folds events in file order into per-loop entries, sorted by
// their most recent enqueue time (FIFO). Pure: no I/O, unit-testable
// without a filesystem.
func DeriveState(events []Event) []*Entry {
	byLoop := make(map[string]*Entry)
	var order []string

	for _, ev := range events {
		entry, ok := byLoop[ev.LoopID]
		if !ok {
			entry = &Entry{LoopID: ev.LoopID}
			byLoop[ev.LoopID] = entry
			order = append(order, ev.LoopID)
		}
		switch ev.Event.Type {
		case StateQueued:
			entry.State = StateQueued
			entry.Prompt = ev.Event.Prompt
			entry.QueuedAt = ev.TS
		case StateMerging:
			entry.State = StateMerging
			entry.MergePID = ev.Event.PID
		case StateMerged:
			entry.State = StateMerged
			entry.MergeCommit = ev.Event.Commit
		case StateNeedsReview:
			entry.State = StateNeedsReview
			entry.FailureReason = ev.Event.Reason
		case StateDiscarded:
			entry.State = StateDiscarded
			entry.DiscardReason = ev.Event.Reason
		}
	}

	entries := make([]*Entry, 0, len(byLoop))
	for _, id := range order {
		entries = append(entries, byLoop[id])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].QueuedAt.Before(entries[j].QueuedAt)
	})
	return entries
}
