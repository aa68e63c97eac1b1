package mergequeue

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return New(filepath.Join(t.TempDir(), ".ralph", "merge-queue.jsonl"))
}

func TestEnqueueAndNextPending(t *testing.T) {
	q := newTestQueue(t)

	next, err := q.NextPending()
	require.NoError(t, err)
	require.Nil(t, next)

	require.NoError(t, q.Enqueue("loop-1", "p1"))
	require.NoError(t, q.Enqueue("loop-2", "p2"))

	next, err = q.NextPending()
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, "loop-1", next.LoopID)
	require.Equal(t, "p1", next.Prompt)
	require.Equal(t, StateQueued, next.State)
}

func TestMergeLifecycle(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue("loop-1", "p1"))
	require.NoError(t, q.Enqueue("loop-2", "p2"))
	require.NoError(t, q.MarkMerging("loop-1", 111))
	require.NoError(t, q.MarkMerged("loop-1", "sha1"))

	merged, err := q.ListByState(StateMerged)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	require.Equal(t, "loop-1", merged[0].LoopID)
	require.Equal(t, "sha1", merged[0].MergeCommit)
	require.Equal(t, 111, merged[0].MergePID)

	queued, err := q.ListByState(StateQueued)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.Equal(t, "loop-2", queued[0].LoopID)

	next, err := q.NextPending()
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, "loop-2", next.LoopID)
}

func TestInvalidTransitions(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue("loop-1", "p1"))

	// Queued -> Merged skips Merging.
	err := q.MarkMerged("loop-1", "sha")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, StateQueued, invalid.From)
	require.Equal(t, StateMerged, invalid.To)

	// Queued -> NeedsReview skips Merging.
	require.ErrorAs(t, q.MarkNeedsReview("loop-1", "r"), &invalid)

	// Rejected transitions leave the derived entry unchanged.
	entry, err := q.entry("loop-1")
	require.NoError(t, err)
	require.Equal(t, StateQueued, entry.State)

	// Merged is terminal.
	require.NoError(t, q.MarkMerging("loop-1", 1))
	require.NoError(t, q.MarkMerged("loop-1", "sha"))
	require.ErrorAs(t, q.MarkMerging("loop-1", 2), &invalid)
	require.ErrorAs(t, q.Discard("loop-1", ""), &invalid)
}

func TestUnknownLoop(t *testing.T) {
	q := newTestQueue(t)
	require.True(t, errors.Is(q.MarkMerging("ghost", 1), ErrUnknownLoop))
	require.True(t, errors.Is(q.MarkMerged("ghost", "sha"), ErrUnknownLoop))
	require.True(t, errors.Is(q.MarkNeedsReview("ghost", "r"), ErrUnknownLoop))
	require.True(t, errors.Is(q.Discard("ghost", ""), ErrUnknownLoop))
}

func TestRetryFromNeedsReview(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue("loop-1", "p1"))
	require.NoError(t, q.MarkMerging("loop-1", 10))
	require.NoError(t, q.MarkNeedsReview("loop-1", "conflict in api.go"))

	review, err := q.ListByState(StateNeedsReview)
	require.NoError(t, err)
	require.Len(t, review, 1)
	require.Equal(t, "conflict in api.go", review[0].FailureReason)

	// Manual retry: NeedsReview -> Merging -> Merged.
	require.NoError(t, q.MarkMerging("loop-1", 11))
	require.NoError(t, q.MarkMerged("loop-1", "sha2"))

	entry, err := q.entry("loop-1")
	require.NoError(t, err)
	require.Equal(t, StateMerged, entry.State)
	require.Equal(t, "sha2", entry.MergeCommit)
}

func TestDiscardPaths(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue("loop-1", "p1"))
	require.NoError(t, q.Discard("loop-1", "superseded"))

	entry, err := q.entry("loop-1")
	require.NoError(t, err)
	require.Equal(t, StateDiscarded, entry.State)
	require.Equal(t, "superseded", entry.DiscardReason)

	// Discard from NeedsReview, with no reason.
	require.NoError(t, q.Enqueue("loop-2", "p2"))
	require.NoError(t, q.MarkMerging("loop-2", 1))
	require.NoError(t, q.MarkNeedsReview("loop-2", "broken"))
	require.NoError(t, q.Discard("loop-2", ""))

	entry, err = q.entry("loop-2")
	require.NoError(t, err)
	require.Equal(t, StateDiscarded, entry.State)
	require.Empty(t, entry.DiscardReason)
}

func TestPersistenceAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merge-queue.jsonl")

	q1 := New(path)
	require.NoError(t, q1.Enqueue("loop-1", "p1"))
	require.NoError(t, q1.MarkMerging("loop-1", 42))

	q2 := New(path)
	entry, err := q2.entry("loop-1")
	require.NoError(t, err)
	require.Equal(t, StateMerging, entry.State)
	require.Equal(t, 42, entry.MergePID)
	require.Equal(t, "p1", entry.Prompt)
}

func TestDeriveStateFIFOOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{TS: base.Add(2 * time.Second), LoopID: "b", Event: Payload{Type: StateQueued, Prompt: "pb"}},
		{TS: base.Add(1 * time.Second), LoopID: "a", Event: Payload{Type: StateQueued, Prompt: "pa"}},
		{TS: base.Add(3 * time.Second), LoopID: "c", Event: Payload{Type: StateQueued, Prompt: "pc"}},
	}

	entries := DeriveState(events)
	require.Len(t, entries, 3)
	require.Equal(t, "a", entries[0].LoopID)
	require.Equal(t, "b", entries[1].LoopID)
	require.Equal(t, "c", entries[2].LoopID)
}

func TestDeriveStateReenqueueMovesToBack(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{TS: base, LoopID: "a", Event: Payload{Type: StateQueued, Prompt: "pa"}},
		{TS: base.Add(time.Second), LoopID: "b", Event: Payload{Type: StateQueued, Prompt: "pb"}},
		{TS: base.Add(2 * time.Second), LoopID: "a", Event: Payload{Type: StateQueued, Prompt: "pa2"}},
	}

	entries := DeriveState(events)
	require.Len(t, entries, 2)
	require.Equal(t, "b", entries[0].LoopID)
	require.Equal(t, "a", entries[1].LoopID)
	require.Equal(t, "pa2", entries[1].Prompt)
}

func TestStateJSONRoundTrip(t *testing.T) {
	for _, s := range []State{StateQueued, StateMerging, StateMerged, StateNeedsReview, StateDiscarded} {
		data, err := s.MarshalJSON()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalJSON(data))
		require.Equal(t, s, back)
	}
}
