package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/lock"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/mergequeue"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/runner"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/workspace"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/worktree"
)

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	statusDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// newStatusCmd creates the "ralph status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show lock holder, running loops, merge queue, and worktrees",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoRoot, err := repoRootFromCwd()
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), repoRoot)
		},
	}
}

func printStatus(out io.Writer, repoRoot string) error {
	printLockStatus(out, repoRoot)

	fmt.Fprintln(out, statusTitleStyle.Render("Running loops"))
	entries, err := runner.NewRegistry(workspace.Primary(repoRoot).RegistryPath()).List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, statusDimStyle.Render("  none"))
	}
	for _, e := range entries {
		role := "worktree"
		if e.Primary {
			role = "primary"
		}
		fmt.Fprintf(out, "  %s  %s  pid %d  %s\n",
			e.LoopID, role, e.PID, statusDimStyle.Render(truncate(e.Prompt, 60)))
	}

	fmt.Fprintln(out, statusTitleStyle.Render("Merge queue"))
	queued, err := mergequeue.New(workspace.Primary(repoRoot).MergeQueuePath()).Entries()
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		fmt.Fprintln(out, statusDimStyle.Render("  empty"))
	}
	for _, entry := range queued {
		line := fmt.Sprintf("  %s  %s  %s", entry.LoopID, entry.State, truncate(entry.Prompt, 60))
		if entry.State == mergequeue.StateNeedsReview {
			line += "  " + statusWarnStyle.Render(truncate(entry.FailureReason, 40))
		}
		fmt.Fprintln(out, line)
	}

	fmt.Fprintln(out, statusTitleStyle.Render("Worktrees"))
	trees, err := worktree.ListRalph(repoRoot)
	if err != nil {
		return err
	}
	if len(trees) == 0 {
		fmt.Fprintln(out, statusDimStyle.Render("  none"))
	}
	for _, wt := range trees {
		fmt.Fprintf(out, "  %s  %s\n", wt.Branch, statusDimStyle.Render(wt.Path))
	}
	return nil
}

func printLockStatus(out io.Writer, repoRoot string) {
	fmt.Fprintln(out, statusTitleStyle.Render("Workspace lock"))
	locked, err := lock.IsLocked(repoRoot)
	if err != nil {
		fmt.Fprintf(out, "  %s\n", statusWarnStyle.Render("unreadable: "+err.Error()))
		return
	}
	if !locked {
		fmt.Fprintln(out, statusDimStyle.Render("  free"))
		return
	}
	meta, err := lock.ReadExisting(repoRoot)
	if err != nil || meta == nil {
		fmt.Fprintln(out, "  held")
		return
	}
	fmt.Fprintf(out, "  held by pid %d since %s  %s\n",
		meta.PID, meta.Started.Format(time.RFC3339), statusDimStyle.Render(truncate(meta.Prompt, 60)))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
