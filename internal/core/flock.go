package core

import (
	"os"

	"golang.org/x/sys/unix"
)

// Flock wraps an open file with advisory exclusive locking via
// flock(2), the way a single Handle-owning process guards its
// destdir against a concurrent invocation. The
// underlying file is left open for the caller to close.
type Flock struct {
	f *os.File
}

// NewFlock opens path (creating it if necessary) and returns a Flock
// over it. The caller is responsible for closing the returned Flock.
func NewFlock(path string) (*Flock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec // lock file, not sensitive content
	if err != nil {
		return nil, wrapErr(ErrCannotCreateTmp, err, "open lock file "+path)
	}
	return &Flock{f: f}, nil
}

// Lock acquires an exclusive, non-blocking advisory lock. It returns
// an error immediately if another process already holds the lock.
func (fl *Flock) Lock() error {
	if err := unix.Flock(int(fl.f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return wrapErr(ErrIO, err, "acquire lock")
	}
	return nil
}

// Unlock releases the lock.
func (fl *Flock) Unlock() error {
	if err := unix.Flock(int(fl.f.Fd()), unix.LOCK_UN); err != nil {
		return wrapErr(ErrIO, err, "release lock")
	}
	return nil
}

// Close releases the lock (best effort) and closes the underlying file.
func (fl *Flock) Close() error {
	_ = unix.Flock(int(fl.f.Fd()), unix.LOCK_UN)
	return fl.f.Close()
}

// Remove closes the lock and removes the backing file. Handle.end
// calls Close, not Remove, so the destdir lock file stays in place
// between fetches.
func (fl *Flock) Remove() error {
	path := fl.f.Name()
	if err := fl.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
