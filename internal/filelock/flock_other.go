//go:build !unix

package filelock

import (
	"errors"
	"os"
)

// ErrUnsupportedPlatform is returned on platforms without advisory file
// locking. Logs must not be written unlocked; callers get a hard error
// instead of silently losing the torn-write guarantee.
var ErrUnsupportedPlatform = errors.New("advisory file locking is not supported on this platform")

func flock(f *os.File, exclusive bool) error {
	return ErrUnsupportedPlatform
}

func unlock(f *os.File) {}
