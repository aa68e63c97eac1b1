package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/worktree"
)

// newWorktreeCmd creates the "ralph worktree" subcommand group.
func newWorktreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Inspect and clean up loop worktrees",
	}
	cmd.AddCommand(newWorktreeListCmd(), newWorktreeRemoveCmd())
	return cmd
}

func newWorktreeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loop worktrees",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoRoot, err := repoRootFromCwd()
			if err != nil {
				return err
			}
			trees, err := worktree.ListRalph(repoRoot)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(trees) == 0 {
				fmt.Fprintln(out, "no loop worktrees")
				return nil
			}
			for _, wt := range trees {
				fmt.Fprintf(out, "%s  %s\n", wt.Branch, wt.Path)
			}
			return nil
		},
	}
}

func newWorktreeRemoveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "remove <loop-id>",
		Short: "Remove a loop worktree and its branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoRoot, err := repoRootFromCwd()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(repoRoot, configPath)
			if err != nil {
				return err
			}
			return worktree.Remove(repoRoot, cfg.WorktreeConfig().Path(repoRoot, args[0]))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to ralph.yml (default: repository root)")
	return cmd
}
