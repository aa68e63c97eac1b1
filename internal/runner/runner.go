// Package runner owns one loop's lifecycle: acquiring the workspace lock
// or falling back to an isolated worktree, driving the event loop against
// an agent executor, recording history around every iteration, and
// queueing completed secondary loops for merge.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/bus"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/config"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/history"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/instructions"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/lock"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/loop"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/mergequeue"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/traceexport"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/workspace"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/worktree"
)

// Result is one agent invocation's outcome.
type Result struct {
	Output  string
	Success bool
	// Cost is the invocation's spend in USD, when the backend reports it.
	Cost float64
}

// Executor runs one agent invocation. The subprocess protocol behind it is
// not the runner's concern.
type Executor interface {
	Execute(ctx context.Context, hat bus.Hat, prompt string) (*Result, error)
}

// Options configures one loop run.
type Options struct {
	// WorkDir is where the run was invoked; the repository root is
	// resolved from it.
	WorkDir string
	// Prompt is the task. May be empty on resume, in which case it is
	// recovered from the loop's history.
	Prompt string
	// LoopID pins the loop identity; generated when empty. Required for
	// resume.
	LoopID string
	// Resume continues an interrupted loop from its recorded history.
	Resume bool
	// WaitForLock blocks for the primary slot instead of falling back to
	// a worktree.
	WaitForLock bool

	Config   config.Config
	Executor Executor
	Logger   *slog.Logger
	Tracer   *traceexport.Exporter
}

// Outcome summarizes a finished run.
type Outcome struct {
	LoopID      string
	Primary     bool
	Workspace   string
	Reason      loop.TerminationReason
	Iterations  int
	MergeQueued bool
}

// ErrAlreadyCompleted rejects resuming a loop whose history already ends
// in successful completion.
var ErrAlreadyCompleted = errors.New("loop already completed")

// newLoopID generates a short unique loop identity.
func newLoopID() string {
	return "loop-" + uuid.New().String()[:8]
}

// Run executes one loop to termination.
func Run(ctx context.Context, opts Options) (*Outcome, error) {
	if opts.Executor == nil {
		return nil, errors.New("runner: no executor configured")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	repoRoot, err := worktree.ResolveRepoRoot(opts.WorkDir)
	if err != nil {
		return nil, err
	}

	loopID := opts.LoopID
	if loopID == "" {
		loopID = newLoopID()
	}
	logger = logger.With("loop_id", loopID)

	wsCtx, guard, err := placeLoop(repoRoot, loopID, opts, logger)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		defer guard.Release()
	}

	if err := wsCtx.EnsureDirectories(); err != nil {
		return nil, err
	}
	if _, err := wsCtx.SetupMemorySymlink(); err != nil {
		logger.Warn("memory symlink not created", "error", err)
	}

	hist := history.NewLog(wsCtx.HistoryPath())

	prompt := opts.Prompt
	resumeFrom := 0
	if opts.Resume {
		prompt, resumeFrom, err = prepareResume(hist, prompt)
		if err != nil {
			return nil, err
		}
	} else {
		if err := hist.RecordLoopStarted(prompt); err != nil {
			return nil, err
		}
	}

	registry := NewRegistry(wsCtx.RegistryPath())
	regErr := registry.Add(RegistryEntry{
		LoopID:    loopID,
		PID:       os.Getpid(),
		Workspace: wsCtx.Workspace,
		Prompt:    prompt,
		Primary:   wsCtx.IsPrimary,
		Started:   time.Now().UTC(),
	})
	if regErr != nil {
		logger.Warn("loop registry update failed", "error", regErr)
	} else {
		defer func() {
			if err := registry.Remove(loopID); err != nil {
				logger.Warn("loop registry cleanup failed", "error", err)
			}
		}()
	}

	l := buildLoop(opts.Config, hist)
	if opts.Resume {
		l.ResumeFrom(resumeFrom)
		if err := hist.RecordLoopResumed(resumeFrom); err != nil {
			return nil, err
		}
	}
	l.Initialize(prompt)

	logger.Info("loop started",
		"primary", wsCtx.IsPrimary,
		"workspace", wsCtx.Workspace,
		"resume", opts.Resume,
	)

	reason, err := iterate(ctx, l, hist, opts, loopID, logger)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		LoopID:     loopID,
		Primary:    wsCtx.IsPrimary,
		Workspace:  wsCtx.Workspace,
		Reason:     reason,
		Iterations: l.State().Iteration,
	}

	// A completed worktree loop rendezvouses with the merge process
	// through the shared queue.
	if !wsCtx.IsPrimary && reason == loop.TerminationCompletionPromise {
		queue := mergequeue.New(wsCtx.MergeQueuePath())
		if err := queue.Enqueue(loopID, prompt); err != nil {
			return nil, fmt.Errorf("enqueueing merge: %w", err)
		}
		if err := hist.RecordMergeQueued(); err != nil {
			return nil, err
		}
		outcome.MergeQueued = true
		logger.Info("merge queued")
	}

	logger.Info("loop finished", "reason", reason.String(), "iterations", outcome.Iterations)
	return outcome, nil
}

// placeLoop decides where the loop runs: the repository root when the
// primary slot is free (or waited for), otherwise a fresh worktree.
func placeLoop(repoRoot, loopID string, opts Options, logger *slog.Logger) (workspace.Context, *lock.Guard, error) {
	// A resumed loop that already has a worktree continues inside it; its
	// history lives there.
	if opts.Resume {
		wtCfg := opts.Config.WorktreeConfig()
		if worktree.Exists(repoRoot, loopID, wtCfg) {
			return workspace.ForWorktree(loopID, wtCfg.Path(repoRoot, loopID), repoRoot), nil, nil
		}
	}

	guard, err := lock.TryAcquire(repoRoot, opts.Prompt)
	if err == nil {
		return workspace.Primary(repoRoot), guard, nil
	}

	var already *lock.AlreadyLockedError
	if !errors.As(err, &already) {
		return workspace.Context{}, nil, err
	}

	if opts.WaitForLock {
		logger.Info("waiting for primary slot", "holder_pid", holderPID(already))
		guard, err := lock.AcquireBlocking(repoRoot, opts.Prompt)
		if err != nil {
			return workspace.Context{}, nil, err
		}
		return workspace.Primary(repoRoot), guard, nil
	}

	logger.Info("workspace locked, isolating in worktree", "holder_pid", holderPID(already))

	wtCfg := opts.Config.WorktreeConfig()
	if err := worktree.EnsureGitignore(repoRoot, wtCfg.Dir); err != nil {
		return workspace.Context{}, nil, err
	}
	wt, err := worktree.Create(repoRoot, loopID, wtCfg)
	if err != nil {
		return workspace.Context{}, nil, err
	}
	return workspace.ForWorktree(loopID, wt.Path, repoRoot), nil, nil
}

func holderPID(already *lock.AlreadyLockedError) int {
	if already.Holder == nil {
		return 0
	}
	return already.Holder.PID
}

// prepareResume recovers the prompt and iteration position from history.
func prepareResume(hist *history.Log, prompt string) (string, int, error) {
	done, err := hist.IsCompleted()
	if err != nil {
		return "", 0, err
	}
	if done {
		return "", 0, ErrAlreadyCompleted
	}
	if prompt == "" {
		recorded, found, err := hist.Prompt()
		if err != nil {
			return "", 0, err
		}
		if !found {
			return "", 0, errors.New("resume: no recorded prompt in history")
		}
		prompt = recorded
	}
	last, _, err := hist.LastIteration()
	if err != nil {
		return "", 0, err
	}
	return prompt, last, nil
}

// buildLoop assembles the bus, instruction builder, and event loop from
// configuration, wiring event publication into the history log.
func buildLoop(cfg config.Config, hist *history.Log) *loop.Loop {
	b := bus.New()
	for _, h := range cfg.BusHats() {
		b.Register(h)
	}
	lc := cfg.LoopConfig()
	lc.OnPublish = func(ev bus.Event) {
		_ = hist.RecordEventPublished(ev.Topic, ev.Payload)
	}
	ib := instructions.NewBuilder(cfg.CompletionPromise, cfg.CoreConfig())
	return loop.New(lc, b, ib)
}

// iterate drives the loop until a termination reason, recording history
// around every iteration.
func iterate(ctx context.Context, l *loop.Loop, hist *history.Log, opts Options, loopID string, logger *slog.Logger) (loop.TerminationReason, error) {
	for {
		if ctx.Err() != nil {
			if err := hist.RecordLoopTerminated("interrupt"); err != nil {
				return loop.TerminationStopped, err
			}
			return loop.TerminationStopped, nil
		}

		hatID, ok := l.NextHat()
		if !ok {
			// No hat has pending work: the loop has starved without a
			// completion promise. Recorded as termination, so resume
			// stays possible.
			if err := hist.RecordLoopTerminated("no_pending_work"); err != nil {
				return loop.TerminationStopped, err
			}
			return loop.TerminationStopped, nil
		}

		prompt, err := l.BuildPrompt(hatID)
		if err != nil {
			return loop.TerminationStopped, err
		}

		iteration := l.State().Iteration + 1
		if err := hist.RecordIterationStarted(iteration); err != nil {
			return loop.TerminationStopped, err
		}

		hat, _ := l.Bus().Hat(hatID)
		spanCtx, span := opts.Tracer.StartIteration(ctx, loopID, hatID, iteration)
		res, execErr := opts.Executor.Execute(spanCtx, hat, prompt)
		span.End()

		if execErr != nil {
			if ctx.Err() != nil {
				if err := hist.RecordLoopTerminated("interrupt"); err != nil {
					return loop.TerminationStopped, err
				}
				return loop.TerminationStopped, nil
			}
			logger.Error("agent execution failed", "hat", hatID, "error", execErr)
			res = &Result{Success: false}
		}

		l.AddCost(res.Cost)
		reason, done := l.ProcessOutput(hatID, res.Output, res.Success)

		if err := hist.RecordIterationCompleted(iteration, res.Success); err != nil {
			return loop.TerminationStopped, err
		}
		logger.Info("iteration finished",
			"iteration", iteration,
			"hat", hatID,
			"success", res.Success,
		)

		if l.ShouldCheckpoint() {
			l.RecordCheckpoint()
			logger.Info("checkpoint", "iteration", iteration, "count", l.State().CheckpointCount)
		}

		if done {
			if reason == loop.TerminationCompletionPromise {
				if err := hist.RecordLoopCompleted(reason.String()); err != nil {
					return reason, err
				}
			} else {
				if err := hist.RecordLoopTerminated(reason.String()); err != nil {
					return reason, err
				}
			}
			return reason, nil
		}
	}
}
