// Package lock provides cross-process mutual exclusion for judge runs.
//
// A Handle is an exclusively held lock file. Where the platform offers flock
// the lock is advisory and released by the kernel when the process exits.
// Elsewhere the lock falls back to exclusive file creation, which leaves a
// narrow window between a failed create and the next poll. Stale lock files
// are never removed automatically.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultPollInterval is the interval between acquisition attempts in timeout mode.
const DefaultPollInterval = 100 * time.Millisecond

var (
	// ErrLockTimeout is returned when the lock could not be acquired before the timeout.
	ErrLockTimeout = errors.New("lock timeout: another run is in progress")

	// ErrLockBusy is returned by a single acquisition attempt when the lock is held.
	ErrLockBusy = errors.New("lock is held by another process")
)

// Options configures lock acquisition.
type Options struct {
	// Timeout bounds the wait. Zero or negative waits until ctx is done.
	Timeout time.Duration

	// PollInterval is the retry interval. Values outside (0, DefaultPollInterval]
	// are clamped to DefaultPollInterval.
	PollInterval time.Duration
}

// Handle is a held lock. Release must be called on every exit path.
type Handle struct {
	path     string
	file     *os.File
	release  func(*Handle) error
	once     sync.Once
	released bool
	mu       sync.Mutex
}

// Acquire takes the lock at path, waiting up to timeout.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Handle, error) {
	return AcquireWithOptions(ctx, path, Options{Timeout: timeout})
}

// AcquireWithOptions takes the lock at path using the given options.
func AcquireWithOptions(ctx context.Context, path string, opts Options) (*Handle, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	interval := opts.PollInterval
	if interval <= 0 || interval > DefaultPollInterval {
		interval = DefaultPollInterval
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var held *Handle
	operation := func() error {
		h, err := tryLock(path)
		if errors.Is(err, ErrLockBusy) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		held = h
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.NewConstantBackOff(interval), waitCtx))
	if err == nil {
		return held, nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("lock acquisition cancelled: %w", ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrLockBusy) {
		return nil, fmt.Errorf("%w (waited %s for %s)", ErrLockTimeout, opts.Timeout, path)
	}
	return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
}

// TryAcquire makes a single non-blocking attempt. It returns ErrLockBusy when held.
func TryAcquire(path string) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return tryLock(path)
}

// Path returns the lock file path.
func (h *Handle) Path() string {
	return h.path
}

// Release drops the lock. Safe to call multiple times.
func (h *Handle) Release() error {
	var err error
	h.once.Do(func() {
		err = h.release(h)
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
	})
	return err
}

// Held reports whether Release has not yet been called.
func (h *Handle) Held() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.released
}

// writeHolder records the holder pid and acquisition time. Informational only.
func writeHolder(f *os.File) {
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "pid=%d acquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	_ = f.Sync()
}
