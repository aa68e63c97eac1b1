package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/config"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/worktree"
)

// exitError carries a process exit code through cobra without printing an
// error message; the loop outcome was already reported.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

// newRootCmd creates the root ralph command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ralph",
		Short:         "Autonomous agent loop orchestrator",
		Long:          "ralph drives autonomous agent loops against a git repository.\nOne loop holds the workspace; concurrent loops are isolated in git\nworktrees and merged back through an event-sourced queue.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newRunCmd(),
		newResumeCmd(),
		newStatusCmd(),
		newMergeCmd(),
		newWorktreeCmd(),
	)

	return cmd
}

// repoRootFromCwd resolves the repository root for the invocation,
// following worktree gitdir indirection.
func repoRootFromCwd() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return worktree.ResolveRepoRoot(cwd)
}

// loadConfig reads ralph.yml from the repository root, or the explicit
// path when one was given.
func loadConfig(repoRoot, explicit string) (config.Config, error) {
	path := explicit
	if path == "" {
		path = filepath.Join(repoRoot, config.DefaultFileName)
	}
	return config.Load(path)
}
