//go:build !unix

package supervisor

import (
	"errors"
	"os"
)

// ErrLocked is returned when another monitor holds the working directory.
var ErrLocked = errors.New("working directory is already monitored by another process")

// Lock only records the owner on platforms without flock.
type Lock struct {
	f *os.File
}

// AcquireLock creates path. No exclusion is enforced.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Release closes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
