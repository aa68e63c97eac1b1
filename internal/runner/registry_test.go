package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRegistryAddListRemove(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), ".ralph", "loops.json"))

	entries, err := reg.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("fresh registry lists %d entries", len(entries))
	}

	a := RegistryEntry{LoopID: "loop-a", PID: 100, Workspace: "/repo", Prompt: "first", Primary: true, Started: time.Now().UTC()}
	b := RegistryEntry{LoopID: "loop-b", PID: 200, Workspace: "/repo/.worktrees/loop-b", Prompt: "second", Started: time.Now().UTC()}
	if err := reg.Add(a); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add(b); err != nil {
		t.Fatal(err)
	}

	entries, err = reg.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	byID := make(map[string]RegistryEntry)
	for _, e := range entries {
		byID[e.LoopID] = e
	}
	if got := byID["loop-a"]; !got.Primary || got.PID != 100 || got.Prompt != "first" {
		t.Errorf("loop-a = %+v", got)
	}
	if got := byID["loop-b"]; got.Primary || got.Workspace != "/repo/.worktrees/loop-b" {
		t.Errorf("loop-b = %+v", got)
	}

	if err := reg.Remove("loop-a"); err != nil {
		t.Fatal(err)
	}
	entries, err = reg.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].LoopID != "loop-b" {
		t.Fatalf("entries after remove = %+v", entries)
	}
}

func TestRegistryRemoveUnknownIsNoop(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "loops.json"))
	if err := reg.Remove("loop-nope"); err != nil {
		t.Fatalf("Remove unknown: %v", err)
	}
}

func TestRegistryAddReplacesSameLoop(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "loops.json"))
	if err := reg.Add(RegistryEntry{LoopID: "loop-a", PID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add(RegistryEntry{LoopID: "loop-a", PID: 2}); err != nil {
		t.Fatal(err)
	}
	entries, err := reg.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].PID != 2 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestRegistryRebuildsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loops.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry(path)
	if err := reg.Add(RegistryEntry{LoopID: "loop-a", PID: 1}); err != nil {
		t.Fatalf("Add over corrupt file: %v", err)
	}
	entries, err := reg.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].LoopID != "loop-a" {
		t.Fatalf("entries = %+v", entries)
	}
}
