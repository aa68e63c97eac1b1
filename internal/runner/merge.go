package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/history"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/mergequeue"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/workspace"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/worktree"
)

// MergeWorker dequeues completed worktree loops FIFO and merges their
// branches back into the repository's current branch, one at a time.
type MergeWorker struct {
	RepoRoot string
	Worktree worktree.Config
	Logger   *slog.Logger
}

func (w *MergeWorker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// Queue returns the repository's shared merge queue.
func (w *MergeWorker) Queue() *mergequeue.Queue {
	return mergequeue.New(workspace.Primary(w.RepoRoot).MergeQueuePath())
}

// loopHistory returns the history log inside the loop's worktree, or nil
// when the worktree is already gone.
func (w *MergeWorker) loopHistory(loopID string) *history.Log {
	path := w.Worktree.Path(w.RepoRoot, loopID)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return history.NewLog(workspace.ForWorktree(loopID, path, w.RepoRoot).HistoryPath())
}

// MergeNext merges the FIFO-earliest queued loop. Returns the processed
// entry, or nil when the queue has no pending work. A failed merge moves
// the entry to NeedsReview instead of returning an error.
func (w *MergeWorker) MergeNext() (*mergequeue.Entry, error) {
	queue := w.Queue()
	entry, err := queue.NextPending()
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return entry, w.merge(queue, entry.LoopID)
}

// Retry re-runs the merge for a loop sitting in NeedsReview.
func (w *MergeWorker) Retry(loopID string) error {
	return w.merge(w.Queue(), loopID)
}

func (w *MergeWorker) merge(queue *mergequeue.Queue, loopID string) error {
	log := w.logger().With("loop_id", loopID)

	if err := queue.MarkMerging(loopID, os.Getpid()); err != nil {
		return err
	}
	hist := w.loopHistory(loopID)
	if hist != nil {
		_ = hist.RecordMergeStarted(os.Getpid())
	}

	commit, mergeErr := mergeBranch(w.RepoRoot, worktree.BranchName(loopID))
	if mergeErr != nil {
		reason := mergeErr.Error()
		log.Warn("merge failed, flagging for review", "reason", reason)
		if hist != nil {
			_ = hist.RecordMergeFailed(reason)
		}
		return queue.MarkNeedsReview(loopID, reason)
	}

	if hist != nil {
		_ = hist.RecordMergeCompleted(commit)
	}
	if err := queue.MarkMerged(loopID, commit); err != nil {
		return err
	}
	log.Info("merged", "commit", commit)

	// The worktree has served its purpose; its branch is merged.
	path := w.Worktree.Path(w.RepoRoot, loopID)
	if _, err := os.Stat(path); err == nil {
		if err := worktree.Remove(w.RepoRoot, path); err != nil {
			log.Warn("worktree cleanup failed", "error", err)
		}
	}
	return nil
}

// Discard abandons a queued or needs-review loop and removes its worktree.
func (w *MergeWorker) Discard(loopID, reason string) error {
	hist := w.loopHistory(loopID)
	if err := w.Queue().Discard(loopID, reason); err != nil {
		return err
	}
	if hist != nil {
		_ = hist.RecordLoopDiscarded(reason)
	}
	path := w.Worktree.Path(w.RepoRoot, loopID)
	if _, err := os.Stat(path); err == nil {
		if err := worktree.Remove(w.RepoRoot, path); err != nil {
			w.logger().Warn("worktree cleanup failed", "loop_id", loopID, "error", err)
		}
	}
	return nil
}

// Watch drains the queue, then merges as new entries arrive, until the
// context is cancelled. Queue appends are observed through filesystem
// notifications on the shared .ralph directory.
func (w *MergeWorker) Watch(ctx context.Context) error {
	log := w.logger()

	drain := func() {
		for {
			entry, err := w.MergeNext()
			if err != nil {
				log.Error("merge attempt failed", "error", err)
				return
			}
			if entry == nil {
				return
			}
		}
	}
	drain()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting queue watcher: %w", err)
	}
	defer watcher.Close()

	ralphDir := workspace.Primary(w.RepoRoot).RalphDir()
	if err := os.MkdirAll(ralphDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", ralphDir, err)
	}
	if err := watcher.Add(ralphDir); err != nil {
		return fmt.Errorf("watching %s: %w", ralphDir, err)
	}
	queuePath := w.Queue().Path()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name == queuePath && ev.Op.Has(fsnotify.Write|fsnotify.Create) {
				drain()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("queue watcher error", "error", err)
		}
	}
}

// mergeBranch merges sourceBranch into the repository's current branch
// with --no-edit and returns the resulting HEAD commit. On failure the
// merge is aborted so the repository is left clean.
func mergeBranch(repoRoot, sourceBranch string) (string, error) {
	if err := exec.Command("git", "-C", repoRoot, "rev-parse", "--verify", sourceBranch).Run(); err != nil {
		return "", fmt.Errorf("source branch %s does not exist", sourceBranch)
	}

	mergeCmd := exec.Command("git", "-C", repoRoot, "merge", sourceBranch, "--no-edit")
	// Conflict details land on stdout, command failures on stderr; keep
	// both for the review reason.
	var output bytes.Buffer
	mergeCmd.Stdout = &output
	mergeCmd.Stderr = &output
	if err := mergeCmd.Run(); err != nil {
		_ = exec.Command("git", "-C", repoRoot, "merge", "--abort").Run()
		msg := strings.TrimSpace(output.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("merge %s: %s", sourceBranch, msg)
	}

	out, err := exec.Command("git", "-C", repoRoot, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("reading merge commit: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
