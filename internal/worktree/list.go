package worktree

import (
	"strings"
)

// List parses `git worktree list --porcelain`. Blocks are separated by a
// blank line; bare repositories are excluded; the first non-bare block is
// the main worktree.
func List(repoRoot string) ([]Worktree, error) {
	out, err := git(repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(out), nil
}

func parsePorcelain(out string) []Worktree {
	var worktrees []Worktree
	var current Worktree
	var bare, inBlock bool

	flush := func() {
		if inBlock && !bare && current.Path != "" {
			current.IsMain = len(worktrees) == 0
			worktrees = append(worktrees, current)
		}
		current = Worktree{}
		bare = false
		inBlock = false
	}

	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			current.Path = strings.TrimPrefix(line, "worktree ")
			inBlock = true
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			bare = true
		case line == "":
			flush()
		}
	}
	flush()
	return worktrees
}

// ListRalph returns only loop worktrees: entries whose branch carries the
// ralph/ prefix.
func ListRalph(repoRoot string) ([]Worktree, error) {
	all, err := List(repoRoot)
	if err != nil {
		return nil, err
	}
	var out []Worktree
	for _, wt := range all {
		if strings.HasPrefix(wt.Branch, BranchPrefix) {
			out = append(out, wt)
		}
	}
	return out, nil
}

// Exists reports whether the loop's worktree is present in the repository's
// worktree list.
func Exists(repoRoot, loopID string, cfg Config) bool {
	all, err := List(repoRoot)
	if err != nil {
		return false
	}
	want := cfg.Path(repoRoot, loopID)
	for _, wt := range all {
		if wt.Path == want || wt.Branch == BranchName(loopID) {
			return true
		}
	}
	return false
}
