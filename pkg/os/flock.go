package os

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const defaultLockName = "groupcall.lock"

var ErrLocked = errors.New("the lock is held by another process")

type Flock struct {
	f *flock.Flock
}

// NewFileLock makes a lock file, empty path means the lock in
// the temp dir.
func NewFileLock(path string) (*Flock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), defaultLockName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, err
	}
	return &Flock{f: flock.New(path)}, nil
}

func (f *Flock) Lock() error   { return f.f.Lock() }
func (f *Flock) Unlock() error { return f.f.Unlock() }
func (f *Flock) Path() string  { return f.f.Path() }

// TryLock takes the lock without waiting, ErrLocked means somebody else has it.
func (f *Flock) TryLock() error {
	ok, err := f.f.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLocked
	}
	return nil
}
