package main

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/bus"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/runner"
)

// commandExecutor runs the agent backend as a subprocess: the prompt goes
// in on stdin, the transcript comes back on stdout. A hat with its own
// Backend overrides the default command.
type commandExecutor struct {
	command string
	args    []string
}

func (e *commandExecutor) Execute(ctx context.Context, hat bus.Hat, prompt string) (*runner.Result, error) {
	name := e.command
	if hat.Backend != "" {
		name = hat.Backend
	}

	cmd := exec.CommandContext(ctx, name, e.args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// A backend exiting nonzero is a failed iteration, not a runner
		// error; whatever it wrote may still carry events.
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return &runner.Result{Output: stdout.String(), Success: false}, nil
		}
		return nil, err
	}
	return &runner.Result{Output: stdout.String(), Success: true}, nil
}
