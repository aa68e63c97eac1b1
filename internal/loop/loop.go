// Package loop drives one agent loop: it turns agent output into routed
// events and hat activations, tracks iteration, failure, and cost
// counters, and decides when the loop must stop.
package loop

import (
	"fmt"
	"strings"
	"time"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/bus"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/events"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/instructions"
)

// Conventional hat ids and orchestrator topics.
const (
	HatPlanner = "planner"
	HatBuilder = "builder"

	TopicTaskStart    = "task.start"
	TopicTaskContinue = "task.continue"
)

// DefaultHats returns the standard Coordinator + Ralph pair.
func DefaultHats() []bus.Hat {
	return []bus.Hat{
		{
			ID:        HatPlanner,
			Name:      "Coordinator",
			Triggers:  []string{TopicTaskStart, TopicTaskContinue, "build.done", "build.blocked"},
			Publishes: []string{"build.task"},
		},
		{
			ID:        HatBuilder,
			Name:      "Ralph",
			Triggers:  []string{"build.task"},
			Publishes: []string{"build.done", "build.blocked"},
		},
	}
}

// Loop is one event loop's state machine. Not safe for concurrent use:
// exactly one goroutine drives a loop.
type Loop struct {
	cfg     Config
	state   State
	bus     *bus.Bus
	builder *instructions.Builder
}

// New creates a loop over the given bus and instruction builder, with the
// start instant set to now.
func New(cfg Config, b *bus.Bus, ib *instructions.Builder) *Loop {
	l := &Loop{cfg: cfg, bus: b, builder: ib}
	l.state.StartedAt = l.now()
	return l
}

func (l *Loop) now() time.Time {
	if l.cfg.Clock != nil {
		return l.cfg.Clock()
	}
	return time.Now()
}

func (l *Loop) parse(text string) []bus.Event {
	if l.cfg.ParseFn != nil {
		return l.cfg.ParseFn(text)
	}
	return events.Parse(text)
}

func (l *Loop) containsPromise(text string) bool {
	if l.cfg.ContainsPromiseFn != nil {
		return l.cfg.ContainsPromiseFn(text, l.cfg.CompletionPromise)
	}
	return events.ContainsPromise(text, l.cfg.CompletionPromise)
}

// State returns a copy of the current loop state.
func (l *Loop) State() State { return l.state }

// Bus returns the loop's event bus.
func (l *Loop) Bus() *bus.Bus { return l.bus }

// Initialize kicks the loop off by publishing the task.start event
// carrying the user prompt.
func (l *Loop) Initialize(prompt string) {
	l.bus.Publish(bus.Event{Topic: TopicTaskStart, Payload: prompt})
}

// NextHat returns the next hat with pending work, in bus scan order.
func (l *Loop) NextHat() (string, bool) {
	return l.bus.NextHatWithPending()
}

// BuildPrompt drains the hat's pending events and renders its prompt. The
// conventional planner and builder hats get their specialized templates
// only while their configured instructions are empty; supplying
// instructions switches any hat to the generic template, letting a
// deployment override default behavior.
func (l *Loop) BuildPrompt(hatID string) (string, error) {
	hat, ok := l.bus.Hat(hatID)
	if !ok {
		return "", fmt.Errorf("unknown hat: %s", hatID)
	}

	pending := l.bus.TakePending(hatID)
	lines := make([]string, 0, len(pending))
	for _, ev := range pending {
		lines = append(lines, fmt.Sprintf("Event: %s - %s", ev.Topic, ev.Payload))
	}
	context := strings.Join(lines, "\n")

	switch {
	case hatID == HatPlanner && hat.Instructions == "":
		return l.builder.Coordinator(context), nil
	case hatID == HatBuilder && hat.Instructions == "":
		return l.builder.Ralph(context), nil
	default:
		return l.builder.CustomHat(hat, context), nil
	}
}

// ProcessOutput ingests one agent invocation's output. It always advances
// the iteration and failure counters; promise detection runs before event
// parsing and before threshold checks, so a completing loop terminates
// even when the output also carries events or a threshold is exceeded.
// Returns the termination reason and whether the loop must stop.
func (l *Loop) ProcessOutput(hatID, output string, success bool) (TerminationReason, bool) {
	l.state.Iteration++
	l.state.LastHat = hatID
	if success {
		l.state.ConsecutiveFailures = 0
	} else {
		l.state.ConsecutiveFailures++
	}

	if l.containsPromise(output) {
		return TerminationCompletionPromise, true
	}

	for _, ev := range l.parse(output) {
		ev.Source = hatID
		l.bus.Publish(ev)
		if l.cfg.OnPublish != nil {
			l.cfg.OnPublish(ev)
		}
	}

	// A single-hat loop with nothing pending would stall forever; nudge it
	// with a continue event.
	if l.bus.HatCount() == 1 && !l.bus.HasPending() {
		l.bus.Publish(bus.Event{
			Topic:   TopicTaskContinue,
			Payload: "Continue with the task",
			Target:  hatID,
		})
	}

	if reason := l.checkTermination(); reason != TerminationNone {
		return reason, true
	}
	return TerminationNone, false
}

// checkTermination evaluates thresholds in fixed priority order:
// iterations, runtime, cost, consecutive failures.
func (l *Loop) checkTermination() TerminationReason {
	if l.cfg.MaxIterations > 0 && l.state.Iteration >= l.cfg.MaxIterations {
		return TerminationMaxIterations
	}
	if l.cfg.MaxRuntime > 0 && l.now().Sub(l.state.StartedAt) >= l.cfg.MaxRuntime {
		return TerminationMaxRuntime
	}
	if l.cfg.MaxCost > 0 && l.state.CumulativeCost >= l.cfg.MaxCost {
		return TerminationMaxCost
	}
	if l.cfg.MaxConsecutiveFailures > 0 && l.state.ConsecutiveFailures >= l.cfg.MaxConsecutiveFailures {
		return TerminationConsecutiveFailures
	}
	return TerminationNone
}

// AddCost accumulates agent spend toward the cost threshold.
func (l *Loop) AddCost(delta float64) {
	l.state.CumulativeCost += delta
}

// ShouldCheckpoint reports whether the current iteration lands on the
// checkpoint interval.
func (l *Loop) ShouldCheckpoint() bool {
	return l.cfg.CheckpointInterval > 0 && l.state.Iteration%l.cfg.CheckpointInterval == 0
}

// RecordCheckpoint bumps the checkpoint counter.
func (l *Loop) RecordCheckpoint() {
	l.state.CheckpointCount++
}

// ResumeFrom restores the iteration counter when continuing an interrupted
// loop from its history.
func (l *Loop) ResumeFrom(iteration int) {
	l.state.Iteration = iteration
}
