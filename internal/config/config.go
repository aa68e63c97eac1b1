// Package config loads the ralph.yml loop configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/bus"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/instructions"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/loop"
	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/worktree"
)

// DefaultFileName is the configuration file looked up in the repository
// root.
const DefaultFileName = "ralph.yml"

// Hat configures one agent role.
type Hat struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Instructions   string   `yaml:"instructions"`
	Triggers       []string `yaml:"triggers"`
	Publishes      []string `yaml:"publishes"`
	Backend        string   `yaml:"backend"`
	MaxActivations int      `yaml:"max_activations"`
}

// Core configures the behaviors injected into every prompt.
type Core struct {
	Scratchpad string   `yaml:"scratchpad"`
	SpecsDir   string   `yaml:"specs_dir"`
	Guardrails []string `yaml:"guardrails"`
}

// Worktree configures where secondary loops are isolated.
type Worktree struct {
	Dir string `yaml:"dir"`
}

// Config is the full loop configuration.
type Config struct {
	MaxIterations          int     `yaml:"max_iterations"`
	MaxRuntimeSeconds      int     `yaml:"max_runtime_seconds"`
	MaxCostUSD             float64 `yaml:"max_cost_usd"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`
	CheckpointInterval     int     `yaml:"checkpoint_interval"`
	CompletionPromise      string  `yaml:"completion_promise"`

	Core     Core     `yaml:"core"`
	Hats     []Hat    `yaml:"hats"`
	Worktree Worktree `yaml:"worktree"`
}

// Default returns the shipped configuration.
func Default() Config {
	core := instructions.DefaultCore()
	return Config{
		MaxIterations:          loop.DefaultMaxIterations,
		MaxRuntimeSeconds:      int(loop.DefaultMaxRuntime / time.Second),
		MaxConsecutiveFailures: loop.DefaultMaxConsecutiveFailures,
		CompletionPromise:      loop.DefaultCompletionPromise,
		Core: Core{
			Scratchpad: core.Scratchpad,
			SpecsDir:   core.SpecsDir,
			Guardrails: core.Guardrails,
		},
		Worktree: Worktree{Dir: ".worktrees"},
	}
}

// Load reads the configuration file, filling omitted fields with defaults.
// A missing file yields the full defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.CompletionPromise == "" {
		cfg.CompletionPromise = loop.DefaultCompletionPromise
	}
	if cfg.Worktree.Dir == "" {
		cfg.Worktree.Dir = ".worktrees"
	}
	return cfg, nil
}

// LoopConfig converts to the event loop's threshold configuration.
func (c Config) LoopConfig() loop.Config {
	return loop.Config{
		MaxIterations:          c.MaxIterations,
		MaxRuntime:             time.Duration(c.MaxRuntimeSeconds) * time.Second,
		MaxCost:                c.MaxCostUSD,
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
		CheckpointInterval:     c.CheckpointInterval,
		CompletionPromise:      c.CompletionPromise,
	}
}

// BusHats converts the configured hats for registration, falling back to
// the default Coordinator + Ralph pair when none are configured.
func (c Config) BusHats() []bus.Hat {
	if len(c.Hats) == 0 {
		return loop.DefaultHats()
	}
	hats := make([]bus.Hat, 0, len(c.Hats))
	for _, h := range c.Hats {
		hats = append(hats, bus.Hat{
			ID:             h.ID,
			Name:           h.Name,
			Instructions:   h.Instructions,
			Triggers:       h.Triggers,
			Publishes:      h.Publishes,
			Backend:        h.Backend,
			MaxActivations: h.MaxActivations,
		})
	}
	return hats
}

// CoreConfig converts to the instruction builder's core configuration.
func (c Config) CoreConfig() instructions.CoreConfig {
	return instructions.CoreConfig{
		Scratchpad: c.Core.Scratchpad,
		SpecsDir:   c.Core.SpecsDir,
		Guardrails: c.Core.Guardrails,
	}
}

// WorktreeConfig converts to the worktree manager's configuration.
func (c Config) WorktreeConfig() worktree.Config {
	return worktree.Config{Dir: c.Worktree.Dir}
}
