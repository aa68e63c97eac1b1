//go:build unix

package lock

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTryAcquireWritesMetadata(t *testing.T) {
	dir := t.TempDir()

	guard, err := TryAcquire(dir, "build auth")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	defer guard.Release()

	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("reading lock file: %v", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("parsing lock file: %v", err)
	}
	if meta.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", meta.PID, os.Getpid())
	}
	if meta.Prompt != "build auth" {
		t.Errorf("prompt = %q, want %q", meta.Prompt, "build auth")
	}
	if meta.Started.IsZero() {
		t.Error("started timestamp is zero")
	}
}

func TestTryAcquireMutualExclusion(t *testing.T) {
	dir := t.TempDir()

	guard, err := TryAcquire(dir, "first")
	if err != nil {
		t.Fatalf("first TryAcquire: %v", err)
	}

	_, err = TryAcquire(dir, "second")
	var locked *AlreadyLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("second TryAcquire error = %v, want AlreadyLockedError", err)
	}
	if locked.Holder == nil {
		t.Fatal("AlreadyLockedError carries no holder metadata")
	}
	if locked.Holder.PID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", locked.Holder.PID, os.Getpid())
	}
	if locked.Holder.Prompt != "first" {
		t.Errorf("holder prompt = %q, want %q", locked.Holder.Prompt, "first")
	}

	if err := guard.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	guard2, err := TryAcquire(dir, "second")
	if err != nil {
		t.Fatalf("TryAcquire after release: %v", err)
	}
	guard2.Release()
}

func TestIsLockedProbe(t *testing.T) {
	dir := t.TempDir()

	locked, err := IsLocked(dir)
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Error("fresh workspace reported locked")
	}

	guard, err := TryAcquire(dir, "build auth")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	locked, err = IsLocked(dir)
	if err != nil {
		t.Fatalf("IsLocked while held: %v", err)
	}
	if !locked {
		t.Error("held workspace reported unlocked")
	}

	guard.Release()

	locked, err = IsLocked(dir)
	if err != nil {
		t.Fatalf("IsLocked after release: %v", err)
	}
	if locked {
		t.Error("released workspace reported locked")
	}
}

func TestReadExisting(t *testing.T) {
	dir := t.TempDir()

	meta, err := ReadExisting(dir)
	if err != nil {
		t.Fatalf("ReadExisting on missing file: %v", err)
	}
	if meta != nil {
		t.Errorf("missing file returned metadata %+v", meta)
	}

	guard, err := TryAcquire(dir, "hold it")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	defer guard.Release()

	meta, err = ReadExisting(dir)
	if err != nil {
		t.Fatalf("ReadExisting: %v", err)
	}
	if meta == nil {
		t.Fatal("ReadExisting returned nil while lock held")
	}
	if meta.Prompt != "hold it" {
		t.Errorf("prompt = %q, want %q", meta.Prompt, "hold it")
	}
}

func TestReadExistingGarbageIsNil(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	meta, err := ReadExisting(dir)
	if err != nil {
		t.Fatalf("ReadExisting: %v", err)
	}
	if meta != nil {
		t.Errorf("garbage lock file returned metadata %+v", meta)
	}
}

func TestAcquireBlockingWaitsForRelease(t *testing.T) {
	dir := t.TempDir()

	guard, err := TryAcquire(dir, "holder")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	acquired := make(chan *Guard, 1)
	go func() {
		g, err := AcquireBlocking(dir, "waiter")
		if err != nil {
			t.Errorf("AcquireBlocking: %v", err)
			acquired <- nil
			return
		}
		acquired <- g
	}()

	select {
	case <-acquired:
		t.Fatal("AcquireBlocking returned while lock was held")
	case <-time.After(100 * time.Millisecond):
	}

	guard.Release()

	select {
	case g := <-acquired:
		if g != nil {
			g.Release()
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AcquireBlocking did not return after release")
	}
}
