// Package worktree manages the isolated git worktrees that secondary loops
// run in. Each loop gets a worktree under the configured base directory and
// a branch named ralph/<loop_id>; removal deletes the branch only when it
// carries that prefix.
package worktree

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// BranchPrefix is the namespace for loop branches. Only branches under this
// prefix are ever deleted by Remove.
const BranchPrefix = "ralph/"

// ErrNotARepo reports that the given path is not a git repository.
var ErrNotARepo = errors.New("not a git repository")

// ErrNotFound reports a missing worktree path.
var ErrNotFound = errors.New("worktree not found")

// ErrWorktreeExists reports that the worktree path is already taken.
var ErrWorktreeExists = errors.New("worktree path already exists")

// ErrBranchExists reports that the loop branch already exists.
var ErrBranchExists = errors.New("branch already exists")

// Config controls where worktrees are created.
type Config struct {
	// Dir is the base directory for worktrees, relative to the repository
	// root unless absolute.
	Dir string
}

// DefaultConfig returns the standard worktree layout.
func DefaultConfig() Config {
	return Config{Dir: ".worktrees"}
}

// BaseDir resolves the worktree base directory against the repository root.
func (c Config) BaseDir(repoRoot string) string {
	if filepath.IsAbs(c.Dir) {
		return c.Dir
	}
	return filepath.Join(repoRoot, c.Dir)
}

// Path returns the worktree path for a loop id.
func (c Config) Path(repoRoot, loopID string) string {
	return filepath.Join(c.BaseDir(repoRoot), loopID)
}

// Worktree describes one entry of the repository's worktree list.
type Worktree struct {
	Path   string
	Branch string
	Head   string
	IsMain bool
}

// BranchName returns the loop branch for a loop id.
func BranchName(loopID string) string {
	return BranchPrefix + loopID
}

// git runs a git subcommand against repoRoot and returns trimmed stdout;
// stderr is preserved in the error.
func git(repoRoot string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", repoRoot}, args...)...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), msg, err)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Create adds a new worktree and branch for the loop. The worktree path
// must not exist; path and branch collisions are reported as distinct
// errors so callers can pick a new loop id or reattach.
func Create(repoRoot, loopID string, cfg Config) (*Worktree, error) {
	if _, err := os.Stat(filepath.Join(repoRoot, ".git")); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotARepo, repoRoot)
	}

	branch := BranchName(loopID)
	path := cfg.Path(repoRoot, loopID)

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorktreeExists, path)
	}
	if err := os.MkdirAll(cfg.BaseDir(repoRoot), 0o755); err != nil {
		return nil, fmt.Errorf("creating worktree base dir: %w", err)
	}

	if _, err := git(repoRoot, "worktree", "add", "-b", branch, path); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "already exists") {
			if strings.Contains(msg, "branch") || strings.Contains(msg, branch) {
				return nil, fmt.Errorf("%w: %s", ErrBranchExists, branch)
			}
			return nil, fmt.Errorf("%w: %s", ErrWorktreeExists, path)
		}
		return nil, err
	}

	wt := &Worktree{Path: path, Branch: branch}
	// Best effort: a worktree without a readable HEAD is still usable.
	if head, err := git(path, "rev-parse", "HEAD"); err == nil {
		wt.Head = head
	}
	return wt, nil
}

// Remove force-removes the worktree at path, deletes its branch when the
// branch carries the ralph/ prefix, and prunes stale worktree metadata.
func Remove(repoRoot, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	// Branch read is best effort; a detached worktree has no branch to
	// delete.
	var branch string
	if name, err := git(path, "rev-parse", "--abbrev-ref", "HEAD"); err == nil && name != "HEAD" {
		branch = name
	}

	if _, err := git(repoRoot, "worktree", "remove", path, "--force"); err != nil {
		return fmt.Errorf("removing worktree %s: %w", path, err)
	}

	if strings.HasPrefix(branch, BranchPrefix) {
		// Non-fatal: the branch may already be gone.
		_, _ = git(repoRoot, "branch", "-D", branch)
	}

	if _, err := git(repoRoot, "worktree", "prune"); err != nil {
		return fmt.Errorf("pruning worktrees: %w", err)
	}
	return nil
}
