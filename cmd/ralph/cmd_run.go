package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/loop"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/runner"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/traceexport"
)

// loopFlags are shared between run and resume.
type loopFlags struct {
	configPath    string
	loopID        string
	backend       string
	backendArgs   []string
	wait          bool
	maxIterations int
}

func (f *loopFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to ralph.yml (default: repository root)")
	cmd.Flags().StringVar(&f.loopID, "loop-id", "", "pin the loop identity (generated when empty)")
	cmd.Flags().StringVar(&f.backend, "backend", "claude", "agent backend command")
	cmd.Flags().StringArrayVar(&f.backendArgs, "backend-arg", nil, "extra argument for the backend command (repeatable)")
	cmd.Flags().BoolVar(&f.wait, "wait", false, "block for the primary slot instead of isolating in a worktree")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "override the configured iteration cap")
}

// newRunCmd creates the "ralph run" subcommand.
func newRunCmd() *cobra.Command {
	var flags loopFlags
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run an agent loop until it terminates",
		Long:  "Runs an agent loop against the repository. The loop claims the\nworkspace when the lock is free; otherwise it runs in an isolated\nworktree and queues its branch for merge on completion.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeLoop(cmd, flags, args[0], false)
		},
	}
	flags.register(cmd)
	return cmd
}

// newResumeCmd creates the "ralph resume" subcommand.
func newResumeCmd() *cobra.Command {
	var flags loopFlags
	cmd := &cobra.Command{
		Use:   "resume <loop-id>",
		Short: "Resume an interrupted loop from its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.loopID = args[0]
			return executeLoop(cmd, flags, "", true)
		},
	}
	flags.register(cmd)
	return cmd
}

func executeLoop(cmd *cobra.Command, flags loopFlags, prompt string, resume bool) error {
	ctx := cmd.Context()

	repoRoot, err := repoRootFromCwd()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(repoRoot, flags.configPath)
	if err != nil {
		return err
	}
	if flags.maxIterations > 0 {
		cfg.MaxIterations = flags.maxIterations
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tracer, err := traceexport.New(ctx)
	if err != nil {
		logger.Warn("trace export disabled", "error", err)
	}
	defer func() {
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Warn("trace export shutdown failed", "error", err)
		}
	}()

	outcome, err := runner.Run(ctx, runner.Options{
		WorkDir:     repoRoot,
		Prompt:      prompt,
		LoopID:      flags.loopID,
		Resume:      resume,
		WaitForLock: flags.wait,
		Config:      cfg,
		Executor:    &commandExecutor{command: flags.backend, args: flags.backendArgs},
		Logger:      logger,
		Tracer:      tracer,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "loop %s finished: %s after %d iterations\n",
		outcome.LoopID, outcome.Reason, outcome.Iterations)
	if outcome.MergeQueued {
		fmt.Fprintf(out, "queued for merge; run `ralph merge` in the main checkout\n")
	}

	if outcome.Reason != loop.TerminationCompletionPromise {
		return &exitError{code: outcome.Reason.ExitCode()}
	}
	return nil
}
