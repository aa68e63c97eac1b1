// Package mergequeue implements the shared, event-sourced merge queue that
// serializes merging isolated worktree loops back into the main branch.
// All loops in one repository append to a single JSONL log; the per-loop
// merge state is derived by replay.
package mergequeue

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/filelock"
)

// ErrUnknownLoop reports a transition for a loop id the queue has never
// seen.
var ErrUnknownLoop = errors.New("loop id not present in merge queue")

// InvalidTransitionError reports an illegal merge-state change. The log is
// left unchanged.
type InvalidTransitionError struct {
	LoopID string
	From   State
	To     State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid merge transition for %s: %s -> %s", e.LoopID, e.From, e.To)
}

// Queue is the shared merge-queue log for one repository.
//
// Every mutator validates the loop's current state under a shared lock and
// then appends under an exclusive lock. These are two separate lock
// acquisitions, not one atomic operation: two processes racing on
// conflicting transitions for the same loop id can both pass validation.
// Accepted because at most one merge process operates per loop id.
type Queue struct {
	path string
}

// New returns a Queue over the given log file path.
func New(path string) *Queue {
	return &Queue{path: path}
}

// Path returns the underlying log path.
func (q *Queue) Path() string { return q.path }

// readEvents reads the full log under a shared lock, skipping malformed
// lines.
func (q *Queue) readEvents() ([]Event, error) {
	if _, err := os.Stat(q.path); os.IsNotExist(err) {
		return nil, nil
	}
	var events []Event
	err := filelock.WithShared(q.path, func(f *os.File) error {
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				continue
			}
			events = append(events, ev)
		}
		return sc.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("reading merge queue %s: %w", q.path, err)
	}
	return events, nil
}

// appendEvent writes one event under an exclusive lock.
func (q *Queue) appendEvent(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding merge event: %w", err)
	}
	return filelock.WithExclusive(q.path, func(f *os.File) error {
		if _, err := f.Seek(0, 2); err != nil {
			return fmt.Errorf("seeking to end: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("appending merge event: %w", err)
		}
		return f.Sync()
	})
}

// Entries returns the derived state of every loop in the queue, FIFO by
// enqueue time.
func (q *Queue) Entries() ([]*Entry, error) {
	events, err := q.readEvents()
	if err != nil {
		return nil, err
	}
	return DeriveState(events), nil
}

// entry returns the derived entry for one loop id, or nil.
func (q *Queue) entry(loopID string) (*Entry, error) {
	entries, err := q.Entries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.LoopID == loopID {
			return e, nil
		}
	}
	return nil, nil
}

// requireState validates that loopID currently sits in one of the allowed
// states before transitioning to target.
func (q *Queue) requireState(loopID string, target State, allowed ...State) error {
	entry, err := q.entry(loopID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrUnknownLoop, loopID)
	}
	for _, s := range allowed {
		if entry.State == s {
			return nil
		}
	}
	return &InvalidTransitionError{LoopID: loopID, From: entry.State, To: target}
}

// Enqueue appends a Queued event for the loop. Re-enqueueing resets the
// loop's position to the back of the queue.
func (q *Queue) Enqueue(loopID, prompt string) error {
	return q.appendEvent(Event{
		TS:     time.Now().UTC(),
		LoopID: loopID,
		Event:  Payload{Type: StateQueued, Prompt: prompt},
	})
}

// MarkMerging transitions a Queued or NeedsReview loop to Merging,
// recording the merging process's pid.
func (q *Queue) MarkMerging(loopID string, pid int) error {
	if err := q.requireState(loopID, StateMerging, StateQueued, StateNeedsReview); err != nil {
		return err
	}
	return q.appendEvent(Event{
		TS:     time.Now().UTC(),
		LoopID: loopID,
		Event:  Payload{Type: StateMerging, PID: pid},
	})
}

// MarkMerged transitions a Merging loop to Merged with the resulting
// commit.
func (q *Queue) MarkMerged(loopID, commit string) error {
	if err := q.requireState(loopID, StateMerged, StateMerging); err != nil {
		return err
	}
	return q.appendEvent(Event{
		TS:     time.Now().UTC(),
		LoopID: loopID,
		Event:  Payload{Type: StateMerged, Commit: commit},
	})
}

// MarkNeedsReview transitions a Merging loop to NeedsReview with the
// failure reason.
func (q *Queue) MarkNeedsReview(loopID, reason string) error {
	if err := q.requireState(loopID, StateNeedsReview, StateMerging); err != nil {
		return err
	}
	return q.appendEvent(Event{
		TS:     time.Now().UTC(),
		LoopID: loopID,
		Event:  Payload{Type: StateNeedsReview, Reason: reason},
	})
}

// Discard abandons a Queued or NeedsReview loop. The reason may be empty.
func (q *Queue) Discard(loopID, reason string) error {
	if err := q.requireState(loopID, StateDiscarded, StateQueued, StateNeedsReview); err != nil {
		return err
	}
	return q.appendEvent(Event{
		TS:     time.Now().UTC(),
		LoopID: loopID,
		Event:  Payload{Type: StateDiscarded, Reason: reason},
	})
}

// NextPending returns the FIFO-earliest Queued entry, or nil when nothing
// is waiting.
func (q *Queue) NextPending() (*Entry, error) {
	entries, err := q.Entries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.State == StateQueued {
			return e, nil
		}
	}
	return nil, nil
}

// ListByState filters the derived entries to one state, preserving FIFO
// order.
func (q *Queue) ListByState(state State) ([]*Entry, error) {
	entries, err := q.Entries()
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, e := range entries {
		if e.State == state {
			out = append(out, e)
		}
	}
	return out, nil
}
