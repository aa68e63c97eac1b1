// Package history implements the append-only per-loop event log. State is
// never stored directly: every query is derived by replaying the log, which
// is what makes crash recovery possible — a loop that died mid-run is
// reconstructed entirely from its history file.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/filelock"
)

// Kind discriminates history event variants.
type Kind string

const (
	KindLoopStarted        Kind = "loop_started"
	KindIterationStarted   Kind = "iteration_started"
	KindEventPublished     Kind = "event_published"
	KindIterationCompleted Kind = "iteration_completed"
	KindLoopCompleted      Kind = "loop_completed"
	KindLoopResumed        Kind = "loop_resumed"
	KindLoopTerminated     Kind = "loop_terminated"
	KindMergeQueued        Kind = "merge_queued"
	KindMergeStarted       Kind = "merge_started"
	KindMergeCompleted     Kind = "merge_completed"
	KindMergeFailed        Kind = "merge_failed"
	KindLoopDiscarded      Kind = "loop_discarded"
)

// Payload is the variant part of a history event. Only the fields relevant
// to the Kind are serialized.
type Payload struct {
	Kind          Kind
	Prompt        string
	Iteration     int
	Topic         string
	Data          string
	Success       bool
	Reason        string
	FromIteration int
	Signal        string
	PID           int
	Commit        string
}

// Event is one history log record.
type Event struct {
	TS   time.Time `json:"ts"`
	Type Payload   `json:"type"`
}

// MarshalJSON serializes only the fields belonging to the event's kind.
func (p Payload) MarshalJSON() ([]byte, error) {
	m := map[string]any{"kind": p.Kind}
	switch p.Kind {
	case KindLoopStarted:
		m["prompt"] = p.Prompt
	case KindIterationStarted:
		m["iteration"] = p.Iteration
	case KindEventPublished:
		m["topic"] = p.Topic
		m["payload"] = p.Data
	case KindIterationCompleted:
		m["iteration"] = p.Iteration
		m["success"] = p.Success
	case KindLoopCompleted:
		m["reason"] = p.Reason
	case KindLoopResumed:
		m["from_iteration"] = p.FromIteration
	case KindLoopTerminated:
		m["signal"] = p.Signal
	case KindMergeQueued:
	case KindMergeStarted:
		m["pid"] = p.PID
	case KindMergeCompleted:
		m["commit"] = p.Commit
	case KindMergeFailed:
		m["reason"] = p.Reason
	case KindLoopDiscarded:
		m["reason"] = p.Reason
	default:
		return nil, fmt.Errorf("unknown history event kind %q", p.Kind)
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts any known variant; unknown kinds round-trip with
// just the discriminator so future variants do not break replay.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind          Kind   `json:"kind"`
		Prompt        string `json:"prompt"`
		Iteration     int    `json:"iteration"`
		Topic         string `json:"topic"`
		Data          string `json:"payload"`
		Success       bool   `json:"success"`
		Reason        string `json:"reason"`
		FromIteration int    `json:"from_iteration"`
		Signal        string `json:"signal"`
		PID           int    `json:"pid"`
		Commit        string `json:"commit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Kind == "" {
		return fmt.Errorf("history event without kind")
	}
	*p = Payload{
		Kind:          raw.Kind,
		Prompt:        raw.Prompt,
		Iteration:     raw.Iteration,
		Topic:         raw.Topic,
		Data:          raw.Data,
		Success:       raw.Success,
		Reason:        raw.Reason,
		FromIteration: raw.FromIteration,
		Signal:        raw.Signal,
		PID:           raw.PID,
		Commit:        raw.Commit,
	}
	return nil
}

// terminal reports whether the kind ends a loop's lifecycle.
func (k Kind) terminal() bool {
	switch k {
	case KindLoopCompleted, KindLoopTerminated, KindLoopDiscarded:
		return true
	}
	return false
}

// Log is an append-only JSONL history file for one loop.
type Log struct {
	path string
}

// NewLog returns a Log over the given file path. The file is created on
// first append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the underlying file path.
func (l *Log) Path() string { return l.path }

// Append writes one event under an exclusive advisory lock.
func (l *Log) Append(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding history event: %w", err)
	}
	return filelock.WithExclusive(l.path, func(f *os.File) error {
		if _, err := f.Seek(0, 2); err != nil {
			return fmt.Errorf("seeking to end: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("appending history event: %w", err)
		}
		return f.Sync()
	})
}

// ReadAll returns every event in write order under a shared advisory lock.
// Malformed lines are skipped: a crash mid-append can leave a torn trailing
// line, and one bad record must not invalidate the audit trail.
func (l *Log) ReadAll() ([]Event, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return nil, nil
	}
	var events []Event
	err := filelock.WithShared(l.path, func(f *os.File) error {
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
		return nil, fmt.Errorf("reading history %s: %w", l.path, err)
	}
	return events, nil
}

// LastIteration returns the iteration number of the most recent
// IterationCompleted event. The second return is false when no iteration
// has completed.
func (l *Log) LastIteration() (int, bool, error) {
	events, err := l.ReadAll()
	if err != nil {
		return 0, false, err
	}
	last, found := 0, false
	for _, ev := range events {
		if ev.Type.Kind == KindIterationCompleted {
			last, found = ev.Type.Iteration, true
		}
	}
	return last, found, nil
}

// IsCompleted reports whether the loop finished successfully: scanning from
// the most recent event backward, the first terminal event encountered must
// be LoopCompleted.
func (l *Log) IsCompleted() (bool, error) {
	events, err := l.ReadAll()
	if err != nil {
		return false, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type.Kind.terminal() {
			return events[i].Type.Kind == KindLoopCompleted, nil
		}
	}
	return false, nil
}

// Prompt returns the prompt from the first LoopStarted event.
func (l *Log) Prompt() (string, bool, error) {
	events, err := l.ReadAll()
	if err != nil {
		return "", false, err
	}
	for _, ev := range events {
		if ev.Type.Kind == KindLoopStarted {
			return ev.Type.Prompt, true, nil
		}
	}
	return "", false, nil
}

// Summary aggregates a loop's lifecycle in a single pass over its history.
type Summary struct {
	Prompt              string
	StartedAt           time.Time
	EndedAt             time.Time
	IterationsCompleted int
	IterationsFailed    int
	EventsPublished     int
	Completed           bool
	CompletionReason    string
	Terminated          bool
	TerminationSignal   string
	MergeCommit         string
	MergeFailed         bool
	MergeFailureReason  string
}

// Summary computes the loop summary by replay.
func (l *Log) Summary() (*Summary, error) {
	events, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	s := &Summary{}
	for _, ev := range events {
		if ev.TS.After(s.EndedAt) {
			s.EndedAt = ev.TS
		}
		switch ev.Type.Kind {
		case KindLoopStarted:
			if s.Prompt == "" {
				s.Prompt = ev.Type.Prompt
				s.StartedAt = ev.TS
			}
		case KindIterationCompleted:
			if ev.Type.Success {
				s.IterationsCompleted++
			} else {
				s.IterationsFailed++
			}
		case KindEventPublished:
			s.EventsPublished++
		case KindLoopCompleted:
			s.Completed = true
			s.CompletionReason = ev.Type.Reason
		case KindLoopTerminated:
			s.Terminated = true
			s.TerminationSignal = ev.Type.Signal
		case KindMergeCompleted:
			s.MergeCommit = ev.Type.Commit
		case KindMergeFailed:
			s.MergeFailed = true
			s.MergeFailureReason = ev.Type.Reason
		}
	}
	return s, nil
}

func (l *Log) record(p Payload) error {
	return l.Append(Event{TS: time.Now().UTC(), Type: p})
}

// RecordLoopStarted appends a loop_started event.
func (l *Log) RecordLoopStarted(prompt string) error {
	return l.record(Payload{Kind: KindLoopStarted, Prompt: prompt})
}

// RecordIterationStarted appends an iteration_started event.
func (l *Log) RecordIterationStarted(iteration int) error {
	return l.record(Payload{Kind: KindIterationStarted, Iteration: iteration})
}

// RecordEventPublished appends an event_published event.
func (l *Log) RecordEventPublished(topic, payload string) error {
	return l.record(Payload{Kind: KindEventPublished, Topic: topic, Data: payload})
}

// RecordIterationCompleted appends an iteration_completed event.
func (l *Log) RecordIterationCompleted(iteration int, success bool) error {
	return l.record(Payload{Kind: KindIterationCompleted, Iteration: iteration, Success: success})
}

// RecordLoopCompleted appends a loop_completed event.
func (l *Log) RecordLoopCompleted(reason string) error {
	return l.record(Payload{Kind: KindLoopCompleted, Reason: reason})
}

// RecordLoopResumed appends a loop_resumed event.
func (l *Log) RecordLoopResumed(fromIteration int) error {
	return l.record(Payload{Kind: KindLoopResumed, FromIteration: fromIteration})
}

// RecordLoopTerminated appends a loop_terminated event.
func (l *Log) RecordLoopTerminated(signal string) error {
	return l.record(Payload{Kind: KindLoopTerminated, Signal: signal})
}

// RecordMergeQueued appends a merge_queued event.
func (l *Log) RecordMergeQueued() error {
	return l.record(Payload{Kind: KindMergeQueued})
}

// RecordMergeStarted appends a merge_started event.
func (l *Log) RecordMergeStarted(pid int) error {
	return l.record(Payload{Kind: KindMergeStarted, PID: pid})
}

// RecordMergeCompleted appends a merge_completed event.
func (l *Log) RecordMergeCompleted(commit string) error {
	return l.record(Payload{Kind: KindMergeCompleted, Commit: commit})
}

// RecordMergeFailed appends a merge_failed event.
func (l *Log) RecordMergeFailed(reason string) error {
	return l.record(Payload{Kind: KindMergeFailed, Reason: reason})
}

// RecordLoopDiscarded appends a loop_discarded event.
func (l *Log) RecordLoopDiscarded(reason string) error {
	return l.record(Payload{Kind: KindLoopDiscarded, Reason: reason})
}
