//go:build windows

package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// withFileLock runs fn while holding an exclusive LockFileEx lock on the
// first byte of lockPath.
func withFileLock(lockPath string, fn func() error) error {
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("open store lock: %w", err)
	}
	defer f.Close()

	h := windows.Handle(f.Fd())
	if err := windows.LockFileEx(h, windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &windows.Overlapped{}); err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	defer windows.UnlockFileEx(h, 0, 1, 0, &windows.Overlapped{})

	return fn()
}
