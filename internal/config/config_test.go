package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "ralph.yml"))
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.MaxIterations)
	assert.Equal(t, "LOOP_COMPLETE", cfg.CompletionPromise)
	assert.Equal(t, ".agent/scratchpad.md", cfg.Core.Scratchpad)
	assert.Equal(t, ".worktrees", cfg.Worktree.Dir)
	assert.Empty(t, cfg.Hats)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ralph.yml")
	content := `
max_iterations: 10
max_runtime_seconds: 600
max_cost_usd: 25.5
checkpoint_interval: 5
completion_promise: ALL_DONE
core:
  scratchpad: .workspace/plan.md
  specs_dir: ./specifications/
  guardrails:
    - Rule one
worktree:
  dir: .loops
hats:
  - id: reviewer
    name: Code Reviewer
    instructions: Review all PRs.
    triggers: [review.request]
    publishes: [review.done]
    max_activations: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, 25.5, cfg.MaxCostUSD)
	assert.Equal(t, "ALL_DONE", cfg.CompletionPromise)
	assert.Equal(t, ".loops", cfg.Worktree.Dir)

	lc := cfg.LoopConfig()
	assert.Equal(t, 10*time.Minute, lc.MaxRuntime)
	assert.Equal(t, 5, lc.CheckpointInterval)

	hats := cfg.BusHats()
	require.Len(t, hats, 1)
	assert.Equal(t, "reviewer", hats[0].ID)
	assert.Equal(t, []string{"review.request"}, hats[0].Triggers)
	assert.Equal(t, 3, hats[0].MaxActivations)

	core := cfg.CoreConfig()
	assert.Equal(t, ".workspace/plan.md", core.Scratchpad)
	assert.Equal(t, []string{"Rule one"}, core.Guardrails)
}

func TestLoadParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ralph.yml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - not valid yaml: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestBusHatsDefaultPair(t *testing.T) {
	hats := Default().BusHats()
	require.Len(t, hats, 2)
	assert.Equal(t, "planner", hats[0].ID)
	assert.Equal(t, "builder", hats[1].ID)
}
