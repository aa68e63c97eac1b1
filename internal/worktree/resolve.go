package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveRepoRoot resolves the main repository path from a working
// directory. If workDir is a worktree, the .git file points back at the
// main repository's git directory; if it is the main repository, workDir
// is returned unchanged.
func ResolveRepoRoot(workDir string) (string, error) {
	gitPath := filepath.Join(workDir, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotARepo, workDir)
	}
	if info.IsDir() {
		return workDir, nil
	}

	data, err := os.ReadFile(gitPath)
	if err != nil {
		return "", fmt.Errorf("reading .git file: %w", err)
	}
	// Format: "gitdir: /path/to/main/repo/.git/worktrees/<name>"
	gitdir := strings.TrimSpace(string(data))
	if !strings.HasPrefix(gitdir, "gitdir: ") {
		return "", fmt.Errorf("invalid .git file format: %q", gitdir)
	}
	gitdir = strings.TrimPrefix(gitdir, "gitdir: ")

	parts := strings.Split(gitdir, "/.git/worktrees/")
	if len(parts) < 2 {
		return "", fmt.Errorf("cannot parse gitdir: %q", gitdir)
	}
	return parts[0], nil
}
