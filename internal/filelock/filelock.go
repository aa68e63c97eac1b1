// Package filelock provides advisory file locking for the append-only
// JSONL logs shared between loop processes. Readers take a shared lock,
// appenders take an exclusive lock, so a reader never observes a torn
// write.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"
)

// WithShared opens (creating if absent) the file at path, takes a shared
// advisory lock, and calls fn with the open file. The lock is released and
// the file closed on every return path.
func WithShared(path string, fn func(f *os.File) error) error {
	return withLock(path, false, fn)
}

// WithExclusive is like WithShared but takes an exclusive lock. Use for
// appends.
func WithExclusive(path string, fn func(f *os.File) error) error {
	return withLock(path, true, fn)
}

func withLock(path string, exclusive bool, fn func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err := flock(f, exclusive); err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	defer unlock(f)

	return fn(f)
}
