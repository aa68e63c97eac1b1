// Package lock implements the workspace-wide advisory loop lock. The
// process holding the lock is the "primary" loop for that workspace; all
// other loops fall back to isolated worktrees. The lock is an OS advisory
// file lock, so it is released automatically when the holding process
// exits, cleanly or not.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LockFileName is the lock file location relative to the workspace root.
const LockFileName = ".ralph/loop.lock"

// Metadata is the full content of the lock file while the lock is held.
// Any process may read it to learn who holds the lock.
type Metadata struct {
	PID     int       `json:"pid"`
	Started time.Time `json:"started"`
	Prompt  string    `json:"prompt"`
}

// AlreadyLockedError reports that another process holds the loop lock.
// Holder is nil when the holder's metadata could not be read.
type AlreadyLockedError struct {
	Holder *Metadata
}

func (e *AlreadyLockedError) Error() string {
	if e.Holder == nil {
		return "loop lock is already held"
	}
	return fmt.Sprintf("loop lock is already held by pid %d (started %s)",
		e.Holder.PID, e.Holder.Started.Format(time.RFC3339))
}

// ErrUnsupportedPlatform is returned on platforms without advisory file
// locking. Callers must not treat it as "unlocked".
var ErrUnsupportedPlatform = errors.New("loop lock requires advisory file locking, unsupported on this platform")

// Guard is an owned, held loop lock. The lock stays held until Release is
// called or the process exits; the OS drops the advisory lock when the
// descriptor closes, so a crashed holder never leaves the workspace locked.
type Guard struct {
	f    *os.File
	path string
	meta Metadata
}

// Metadata returns the holder metadata written to the lock file.
func (g *Guard) Metadata() Metadata { return g.meta }

// Path returns the lock file path.
func (g *Guard) Path() string { return g.path }

// Release unlocks and closes the lock file. Safe to call more than once.
func (g *Guard) Release() error {
	if g.f == nil {
		return nil
	}
	f := g.f
	g.f = nil
	unlockFile(f)
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing lock file: %w", err)
	}
	return nil
}

// lockPath returns the lock file path for a workspace root.
func lockPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, LockFileName)
}

// openLockFile creates the .ralph directory if needed and opens the lock
// file read-write.
func openLockFile(workspaceRoot string) (*os.File, string, error) {
	path := lockPath(workspaceRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("opening lock file: %w", err)
	}
	return f, path, nil
}

// writeMetadata truncates the lock file and writes the holder metadata.
// Called only while the exclusive lock is held.
func writeMetadata(f *os.File, meta Metadata) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seeking lock file: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding lock metadata: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing lock metadata: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing lock file: %w", err)
	}
	return nil
}

// TryAcquire attempts a non-blocking acquisition of the workspace loop
// lock. On success it writes the caller's metadata into the lock file and
// returns a live Guard. If another process holds the lock, the returned
// error is an *AlreadyLockedError carrying the holder's metadata.
func TryAcquire(workspaceRoot, prompt string) (*Guard, error) {
	f, path, err := openLockFile(workspaceRoot)
	if err != nil {
		return nil, err
	}
	ok, err := tryLockFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if !ok {
		holder, _ := ReadExisting(workspaceRoot)
		f.Close()
		return nil, &AlreadyLockedError{Holder: holder}
	}
	return finishAcquire(f, path, prompt)
}

// AcquireBlocking acquires the workspace loop lock, blocking the calling
// goroutine until the current holder releases it.
func AcquireBlocking(workspaceRoot, prompt string) (*Guard, error) {
	f, path, err := openLockFile(workspaceRoot)
	if err != nil {
		return nil, err
	}
	if err := lockFileBlocking(f); err != nil {
		f.Close()
		return nil, err
	}
	return finishAcquire(f, path, prompt)
}

func finishAcquire(f *os.File, path, prompt string) (*Guard, error) {
	meta := Metadata{
		PID:     os.Getpid(),
		Started: time.Now().UTC(),
		Prompt:  prompt,
	}
	if err := writeMetadata(f, meta); err != nil {
		unlockFile(f)
		f.Close()
		return nil, err
	}
	return &Guard{f: f, path: path, meta: meta}, nil
}

// ReadExisting reads the lock file's metadata without taking the lock.
// Returns nil (and no error) when the file is missing or unparseable.
func ReadExisting(workspaceRoot string) (*Metadata, error) {
	data, err := os.ReadFile(lockPath(workspaceRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, nil
	}
	return &meta, nil
}

// IsLocked probes whether the lock is currently held by attempting and
// immediately releasing an acquisition. The result is advisory: it can
// race with a genuine acquisition in progress.
func IsLocked(workspaceRoot string) (bool, error) {
	f, _, err := openLockFile(workspaceRoot)
	if err != nil {
		return false, err
	}
	defer f.Close()

	ok, err := tryLockFile(f)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	unlockFile(f)
	return false, nil
}
