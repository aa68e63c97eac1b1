package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/mergequeue"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/runner"
)

func newMergeWorker(configPath string) (*runner.MergeWorker, error) {
	repoRoot, err := repoRootFromCwd()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(repoRoot, configPath)
	if err != nil {
		return nil, err
	}
	return &runner.MergeWorker{
		RepoRoot: repoRoot,
		Worktree: cfg.WorktreeConfig(),
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}, nil
}

// newMergeCmd creates the "ralph merge" subcommand.
func newMergeCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
	)
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge completed worktree loops back into the main branch",
		Long:  "Drains the merge queue FIFO, merging each loop's branch into the\ncurrent branch. Conflicted merges are aborted and flagged for review.\nWith --watch, keeps running and merges as new loops complete.",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := newMergeWorker(configPath)
			if err != nil {
				return err
			}
			if watch {
				return w.Watch(cmd.Context())
			}
			out := cmd.OutOrStdout()
			merged := 0
			for {
				entry, err := w.MergeNext()
				if err != nil {
					return err
				}
				if entry == nil {
					break
				}
				merged++
				fmt.Fprintf(out, "processed %s\n", entry.LoopID)
			}
			if merged == 0 {
				fmt.Fprintln(out, "merge queue is empty")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ralph.yml (default: repository root)")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and merge as loops complete")

	cmd.AddCommand(newMergeRetryCmd(), newMergeDiscardCmd(), newMergeListCmd())
	return cmd
}

func newMergeRetryCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "retry <loop-id>",
		Short: "Re-run the merge for a loop flagged needs_review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := newMergeWorker(configPath)
			if err != nil {
				return err
			}
			return w.Retry(args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ralph.yml (default: repository root)")
	return cmd
}

func newMergeDiscardCmd() *cobra.Command {
	var (
		configPath string
		reason     string
	)
	cmd := &cobra.Command{
		Use:   "discard <loop-id>",
		Short: "Abandon a queued or needs_review loop and remove its worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := newMergeWorker(configPath)
			if err != nil {
				return err
			}
			return w.Discard(args[0], reason)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ralph.yml (default: repository root)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the loop is being discarded")
	return cmd
}

func newMergeListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List merge queue entries and their states",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := newMergeWorker(configPath)
			if err != nil {
				return err
			}
			entries, err := w.Queue().Entries()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "merge queue is empty")
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintf(out, "%s  %s  %s\n", entry.LoopID, entry.State, truncate(entry.Prompt, 60))
				if entry.State == mergequeue.StateNeedsReview && entry.FailureReason != "" {
					fmt.Fprintf(out, "  reason: %s\n", entry.FailureReason)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ralph.yml (default: repository root)")
	return cmd
}
