package loop

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/bus"
)

// TerminationReason indicates why the event loop stopped.
type TerminationReason int

const (
	// TerminationNone means the loop should keep running. Never returned
	// as a final reason.
	TerminationNone TerminationReason = iota
	// TerminationCompletionPromise: the agent output the completion
	// promise string.
	TerminationCompletionPromise
	// TerminationMaxIterations: hit the iteration cap.
	TerminationMaxIterations
	// TerminationMaxRuntime: exceeded the wall-clock budget.
	TerminationMaxRuntime
	// TerminationMaxCost: exceeded the cumulative cost budget.
	TerminationMaxCost
	// TerminationConsecutiveFailures: too many failures in a row.
	TerminationConsecutiveFailures
	// TerminationStopped: stopped externally (signal or supervisor).
	TerminationStopped
)

// String returns a stable label for the reason.
func (r TerminationReason) String() string {
	switch r {
	case TerminationNone:
		return "none"
	case TerminationCompletionPromise:
		return "completion_promise"
	case TerminationMaxIterations:
		return "max_iterations"
	case TerminationMaxRuntime:
		return "max_runtime"
	case TerminationMaxCost:
		return "max_cost"
	case TerminationConsecutiveFailures:
		return "consecutive_failures"
	case TerminationStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ExitCode returns a distinct process exit code for each reason.
func (r TerminationReason) ExitCode() int {
	switch r {
	case TerminationCompletionPromise:
		return 0
	case TerminationMaxIterations:
		return 2
	case TerminationMaxRuntime:
		return 3
	case TerminationMaxCost:
		return 4
	case TerminationConsecutiveFailures:
		return 5
	case TerminationStopped:
		return 6
	default:
		return 1
	}
}

// MarshalJSON implements json.Marshaler.
func (r TerminationReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *TerminationReason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "none":
		*r = TerminationNone
	case "completion_promise":
		*r = TerminationCompletionPromise
	case "max_iterations":
		*r = TerminationMaxIterations
	case "max_runtime":
		*r = TerminationMaxRuntime
	case "max_cost":
		*r = TerminationMaxCost
	case "consecutive_failures":
		*r = TerminationConsecutiveFailures
	case "stopped":
		*r = TerminationStopped
	default:
		return fmt.Errorf("unknown TerminationReason: %s", s)
	}
	return nil
}

// State is the mutable loop state, owned by exactly one Loop instance and
// mutated once per processed output.
type State struct {
	Iteration           int
	ConsecutiveFailures int
	CumulativeCost      float64
	StartedAt           time.Time
	LastHat             string
	CheckpointCount     int
}

// Default thresholds, matching the shipped configuration.
const (
	DefaultMaxIterations          = 50
	DefaultMaxRuntime             = 2 * time.Hour
	DefaultMaxConsecutiveFailures = 3
	DefaultCompletionPromise      = "LOOP_COMPLETE"
)

// Config carries the loop's termination thresholds and test seams.
type Config struct {
	// MaxIterations caps the iteration count; zero disables the cap.
	MaxIterations int
	// MaxRuntime caps wall-clock time from loop start; zero disables.
	MaxRuntime time.Duration
	// MaxCost caps cumulative cost in USD; zero means cost is untracked.
	MaxCost float64
	// MaxConsecutiveFailures stops the loop after N failures in a row;
	// zero disables.
	MaxConsecutiveFailures int
	// CheckpointInterval triggers a checkpoint every N iterations; zero
	// disables checkpoints.
	CheckpointInterval int
	// CompletionPromise is the sentinel string ending the loop.
	CompletionPromise string

	// OnPublish observes every event published from agent output, e.g. to
	// record it in the loop history. Synthesized task.continue events are
	// not observed.
	OnPublish func(ev bus.Event)

	// Test hooks. Nil means use the real event parser.
	ParseFn           func(text string) []bus.Event
	ContainsPromiseFn func(text, promise string) bool

	// Clock is a test seam for termination timing. Nil means time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MaxIterations:          DefaultMaxIterations,
		MaxRuntime:             DefaultMaxRuntime,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		CompletionPromise:      DefaultCompletionPromise,
	}
}
