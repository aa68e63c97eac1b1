package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	return NewLog(filepath.Join(t.TempDir(), ".ralph", "history.jsonl"))
}

func TestAppendAndReadAll(t *testing.T) {
	log := newTestLog(t)

	require.NoError(t, log.RecordLoopStarted("build the parser"))
	require.NoError(t, log.RecordIterationStarted(1))
	require.NoError(t, log.RecordIterationCompleted(1, true))

	events, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, KindLoopStarted, events[0].Type.Kind)
	require.Equal(t, "build the parser", events[0].Type.Prompt)
	require.Equal(t, KindIterationCompleted, events[2].Type.Kind)
	require.True(t, events[2].Type.Success)
}

func TestReadAllMissingFile(t *testing.T) {
	log := newTestLog(t)
	events, err := log.ReadAll()
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestReadAllSkipsTornLine(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.RecordLoopStarted("p"))
	require.NoError(t, log.RecordIterationCompleted(1, true))

	// Simulate a crash mid-append.
	f, err := os.OpenFile(log.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"ts":"2026-01-01T00:00:00Z","type":{"kind":"itera`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestLastIterationIgnoresOtherKinds(t *testing.T) {
	log := newTestLog(t)

	_, found, err := log.LastIteration()
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, log.RecordLoopStarted("p"))
	require.NoError(t, log.RecordIterationStarted(1))
	require.NoError(t, log.RecordIterationCompleted(1, true))
	require.NoError(t, log.RecordEventPublished("build.task", "do a thing"))
	require.NoError(t, log.RecordIterationStarted(2))
	require.NoError(t, log.RecordIterationCompleted(2, false))
	require.NoError(t, log.RecordIterationStarted(3))

	last, found, err := log.LastIteration()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, last)
}

func TestIsCompletedScansBackward(t *testing.T) {
	log := newTestLog(t)

	done, err := log.IsCompleted()
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, log.RecordLoopStarted("p"))
	require.NoError(t, log.RecordLoopCompleted("completion_promise"))

	done, err = log.IsCompleted()
	require.NoError(t, err)
	require.True(t, done)

	// A later termination overrides the earlier completion.
	require.NoError(t, log.RecordLoopResumed(1))
	require.NoError(t, log.RecordLoopTerminated("SIGINT"))

	done, err = log.IsCompleted()
	require.NoError(t, err)
	require.False(t, done)
}

func TestIsCompletedDiscardedIsNotCompleted(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.RecordLoopStarted("p"))
	require.NoError(t, log.RecordLoopDiscarded("superseded"))

	done, err := log.IsCompleted()
	require.NoError(t, err)
	require.False(t, done)
}

func TestPrompt(t *testing.T) {
	log := newTestLog(t)

	_, found, err := log.Prompt()
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, log.RecordLoopStarted("first prompt"))
	require.NoError(t, log.RecordLoopStarted("second prompt"))

	prompt, found, err := log.Prompt()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "first prompt", prompt)
}

func TestSummaryAggregation(t *testing.T) {
	log := newTestLog(t)

	require.NoError(t, log.RecordLoopStarted("summarize me"))
	require.NoError(t, log.RecordIterationStarted(1))
	require.NoError(t, log.RecordEventPublished("build.task", "task one"))
	require.NoError(t, log.RecordIterationCompleted(1, true))
	require.NoError(t, log.RecordIterationStarted(2))
	require.NoError(t, log.RecordIterationCompleted(2, false))
	require.NoError(t, log.RecordLoopCompleted("completion_promise"))
	require.NoError(t, log.RecordMergeQueued())
	require.NoError(t, log.RecordMergeStarted(1234))
	require.NoError(t, log.RecordMergeCompleted("abc123"))

	s, err := log.Summary()
	require.NoError(t, err)
	require.Equal(t, "summarize me", s.Prompt)
	require.Equal(t, 1, s.IterationsCompleted)
	require.Equal(t, 1, s.IterationsFailed)
	require.Equal(t, 1, s.EventsPublished)
	require.True(t, s.Completed)
	require.Equal(t, "completion_promise", s.CompletionReason)
	require.False(t, s.Terminated)
	require.Equal(t, "abc123", s.MergeCommit)
	require.False(t, s.MergeFailed)
	require.False(t, s.StartedAt.IsZero())
	require.False(t, s.EndedAt.Before(s.StartedAt))
}

func TestSummaryMergeFailure(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.RecordLoopStarted("p"))
	require.NoError(t, log.RecordMergeStarted(99))
	require.NoError(t, log.RecordMergeFailed("merge conflict in main.go"))

	s, err := log.Summary()
	require.NoError(t, err)
	require.True(t, s.MergeFailed)
	require.Equal(t, "merge conflict in main.go", s.MergeFailureReason)
}
