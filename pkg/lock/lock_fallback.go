//go:build !unix

package lock

import (
	"errors"
	"fmt"
	"os"
)

// tryLock creates the lock file exclusively. An existing file means the lock is held.
func tryLock(path string) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrLockBusy
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	writeHolder(f)
	return &Handle{path: path, file: f, release: releaseExclusive}, nil
}

func releaseExclusive(h *Handle) error {
	closeErr := h.file.Close()
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file %s: %w", h.path, err)
	}
	return closeErr
}
