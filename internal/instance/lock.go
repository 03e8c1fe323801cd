// Package instance guards the data directory against concurrent processing
// from more than one process.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is created inside the application directory.
const LockFileName = "transcriber.lock"

// ErrBusy is returned when another process holds the lock.
var ErrBusy = errors.New("another transcriber process is already processing files")

// Lock is a cross-process advisory lock on a file.
type Lock struct {
	path string
	lock *flock.Flock
}

// New prepares a lock at dir/LockFileName. It does not acquire it.
func New(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure lock directory: %w", err)
	}
	path := filepath.Join(dir, LockFileName)
	return &Lock{path: path, lock: flock.New(path)}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// TryAcquire takes the lock without blocking. It returns ErrBusy when another
// process already owns it.
func (l *Lock) TryAcquire() error {
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrBusy
	}
	return nil
}

// Locked reports whether this handle currently holds the lock.
func (l *Lock) Locked() bool {
	return l.lock.Locked()
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *Lock) Release() error {
	if !l.lock.Locked() {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
