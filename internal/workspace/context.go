// Package workspace resolves the canonical filesystem layout for a loop.
// Shared coordination files (lock, merge queue, loop registry) always live
// under the repository root, so isolated worktree loops rendezvous through
// one logical queue; everything else is loop-local to the workspace.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Context identifies one loop's filesystem layout.
type Context struct {
	// LoopID is empty for the primary loop.
	LoopID string
	// Workspace is the directory the loop runs in: the repository root for
	// the primary loop, the worktree path for a secondary loop.
	Workspace string
	// RepoRoot is the main repository root, shared by all loops.
	RepoRoot string
	// IsPrimary marks the loop holding the workspace lock.
	IsPrimary bool
}

// Primary returns the context for the primary loop running directly in the
// repository root.
func Primary(repoRoot string) Context {
	return Context{Workspace: repoRoot, RepoRoot: repoRoot, IsPrimary: true}
}

// ForWorktree returns the context for a secondary loop running in an
// isolated worktree.
func ForWorktree(loopID, workspacePath, repoRoot string) Context {
	return Context{LoopID: loopID, Workspace: workspacePath, RepoRoot: repoRoot}
}

// RalphDir is the loop-local coordination directory.
func (c Context) RalphDir() string { return filepath.Join(c.Workspace, ".ralph") }

// AgentDir is the loop-local agent state directory.
func (c Context) AgentDir() string { return filepath.Join(c.Workspace, ".agent") }

// EventsPath is the loop's current event log.
func (c Context) EventsPath() string { return filepath.Join(c.RalphDir(), "events.jsonl") }

// CurrentEventsMarker points at the active events file.
func (c Context) CurrentEventsMarker() string { return filepath.Join(c.RalphDir(), "current-events") }

// HistoryPath is the loop's append-only history log.
func (c Context) HistoryPath() string { return filepath.Join(c.RalphDir(), "history.jsonl") }

// DiagnosticsDir holds per-iteration diagnostic dumps.
func (c Context) DiagnosticsDir() string { return filepath.Join(c.RalphDir(), "diagnostics") }

// TasksPath is the agent's task list.
func (c Context) TasksPath() string { return filepath.Join(c.AgentDir(), "tasks.jsonl") }

// ScratchpadPath is the shared planning scratchpad.
func (c Context) ScratchpadPath() string { return filepath.Join(c.AgentDir(), "scratchpad.md") }

// MemoriesPath is the loop-local memories file (possibly a symlink to the
// shared store).
func (c Context) MemoriesPath() string { return filepath.Join(c.AgentDir(), "memories.md") }

// MainMemoriesPath is the shared memory store under the repository root.
func (c Context) MainMemoriesPath() string {
	return filepath.Join(c.RepoRoot, ".agent", "memories.md")
}

// SummaryPath is the loop's final summary file.
func (c Context) SummaryPath() string { return filepath.Join(c.AgentDir(), "summary.md") }

// LockPath is the workspace-wide loop lock. Always repository-root
// relative.
func (c Context) LockPath() string { return filepath.Join(c.RepoRoot, ".ralph", "loop.lock") }

// MergeQueuePath is the shared merge-queue log. Always repository-root
// relative.
func (c Context) MergeQueuePath() string {
	return filepath.Join(c.RepoRoot, ".ralph", "merge-queue.jsonl")
}

// RegistryPath is the shared registry of running loops. Always
// repository-root relative.
func (c Context) RegistryPath() string {
	return filepath.Join(c.RepoRoot, ".ralph", "loops.json")
}

// EnsureDirectories creates the loop-local directory tree.
func (c Context) EnsureDirectories() error {
	for _, dir := range []string{c.RalphDir(), c.AgentDir(), c.DiagnosticsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// SetupMemorySymlink links the loop-local memories path to the shared
// store under the repository root, so all loops read and write one memory
// file. Primary loops skip it (their memories path already is the shared
// one), and an existing file or link is left alone, making the call
// idempotent. Returns whether a link was created.
func (c Context) SetupMemorySymlink() (bool, error) {
	if c.IsPrimary {
		return false, nil
	}
	local := c.MemoriesPath()
	if _, err := os.Lstat(local); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return false, fmt.Errorf("creating agent dir: %w", err)
	}
	shared := c.MainMemoriesPath()
	if err := os.MkdirAll(filepath.Dir(shared), 0o755); err != nil {
		return false, fmt.Errorf("creating shared agent dir: %w", err)
	}
	if err := os.Symlink(shared, local); err != nil {
		return false, fmt.Errorf("linking memories: %w", err)
	}
	return true, nil
}
