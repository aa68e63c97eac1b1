package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureGitignore adds a trailing-slash ignore pattern for dir to the
// repository's .gitignore, unless an equivalent entry (with or without the
// slash) is already present.
func EnsureGitignore(repoRoot, dir string) error {
	pattern := strings.TrimSuffix(dir, "/") + "/"
	path := filepath.Join(repoRoot, ".gitignore")

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading .gitignore: %w", err)
	}

	content := string(data)
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == pattern || trimmed == strings.TrimSuffix(pattern, "/") {
			return nil
		}
	}

	var b strings.Builder
	b.WriteString(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(pattern)
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}
	return nil
}
