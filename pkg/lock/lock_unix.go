//go:build unix

package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// tryLock opens the lock file and takes a non-blocking exclusive flock.
func tryLock(path string) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLockBusy
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	writeHolder(f)
	return &Handle{path: path, file: f, release: releaseFlock}, nil
}

func releaseFlock(h *Handle) error {
	unlockErr := unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	closeErr := h.file.Close()
	if unlockErr != nil {
		return fmt.Errorf("failed to unlock %s: %w", h.path, unlockErr)
	}
	return closeErr
}
