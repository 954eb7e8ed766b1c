package flock

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

var (
	ErrAcquireLock = errors.New("could not acquire lock")
)

// FileLocker wraps exclusive flock(2) based locking of a file.
type FileLocker struct {
	f *os.File
}

// NewLocker opens (creating if needed) the lock file. The parent directory
// must exist.
func NewLocker(fname string) (*FileLocker, error) {
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	return &FileLocker{f}, nil
}

// Acquire tries to take an exclusive lock until it succeeds, the context
// is done or the timeout expires.
func (l *FileLocker) Acquire(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)

		switch {
		case err == nil:
			return nil
		case !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR):
			return err
		}

		select {
		case <-ctx.Done():
			return ErrAcquireLock
		case <-ticker.C:
		}
	}
}

// Release drops the lock and closes the file.
func (l *FileLocker) Release() {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)

	l.f.Close()
}
