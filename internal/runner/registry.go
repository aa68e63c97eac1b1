package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mikeyobrien/ralph-orchestrator-sub001/internal/filelock"
)

// RegistryEntry describes one running loop in the shared loop registry
// (.ralph/loops.json). The registry is what status tooling enumerates;
// it is advisory, the loop lock is the source of truth for primacy.
type RegistryEntry struct {
	LoopID    string    `json:"loop_id"`
	PID       int       `json:"pid"`
	Workspace string    `json:"workspace"`
	Prompt    string    `json:"prompt"`
	Primary   bool      `json:"primary"`
	Started   time.Time `json:"started"`
}

// Registry is the shared JSON registry of running loops, guarded by the
// same advisory-lock discipline as the logs.
type Registry struct {
	path string
}

// NewRegistry returns a registry over the given file path.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

func decodeRegistry(f *os.File) (map[string]RegistryEntry, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	loops := make(map[string]RegistryEntry)
	if len(data) == 0 {
		return loops, nil
	}
	if err := json.Unmarshal(data, &loops); err != nil {
		// A corrupt registry is rebuilt rather than wedging every loop.
		return make(map[string]RegistryEntry), nil
	}
	return loops, nil
}

func writeRegistry(f *os.File, loops map[string]RegistryEntry) error {
	data, err := json.MarshalIndent(loops, "", "  ")
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// Add registers a running loop.
func (r *Registry) Add(entry RegistryEntry) error {
	err := filelock.WithExclusive(r.path, func(f *os.File) error {
		loops, err := decodeRegistry(f)
		if err != nil {
			return err
		}
		loops[entry.LoopID] = entry
		return writeRegistry(f, loops)
	})
	if err != nil {
		return fmt.Errorf("registering loop %s: %w", entry.LoopID, err)
	}
	return nil
}

// Remove deregisters a loop. Removing an unknown id is a no-op.
func (r *Registry) Remove(loopID string) error {
	err := filelock.WithExclusive(r.path, func(f *os.File) error {
		loops, err := decodeRegistry(f)
		if err != nil {
			return err
		}
		delete(loops, loopID)
		return writeRegistry(f, loops)
	})
	if err != nil {
		return fmt.Errorf("deregistering loop %s: %w", loopID, err)
	}
	return nil
}

// List returns the registered loops.
func (r *Registry) List() ([]RegistryEntry, error) {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return nil, nil
	}
	var out []RegistryEntry
	err := filelock.WithShared(r.path, func(f *os.File) error {
		loops, err := decodeRegistry(f)
		if err != nil {
			return err
		}
		for _, entry := range loops {
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading loop registry: %w", err)
	}
	return out, nil
}
