//go:build !unix

package lock

import "os"

func tryLockFile(f *os.File) (bool, error) {
	return false, ErrUnsupportedPlatform
}

func lockFileBlocking(f *os.File) error {
	return ErrUnsupportedPlatform
}

func unlockFile(f *os.File) {}
