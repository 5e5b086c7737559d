package flock

import (
	"errors"
	"os"
)

var (
	// ErrClosed is returned when locking a closed lock file.
	ErrClosed = errors.New("flock: lock file is closed")
	// ErrWouldBlock is returned by TryLock when another holder has the lock.
	ErrWouldBlock = errors.New("flock: lock is held elsewhere")
)

// Lock acquires an exclusive lock on f, blocking until it is available.
func Lock(f *os.File) error {
	return lock(f, true)
}

// RLock acquires a shared lock on f, blocking until it is available.
func RLock(f *os.File) error {
	return lock(f, false)
}

// Unlock releases any lock held on f.
func Unlock(f *os.File) error {
	return unlock(f)
}

// File is a dedicated lock file, typically a sibling "<name>.lock" of the
// file it guards.
type File struct {
	f *os.File
}

// Open opens or creates the lock file at path.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

// Lock acquires the lock exclusively.
func (l *File) Lock() error {
	if l.f == nil {
		return ErrClosed
	}
	return lock(l.f, true)
}

// TryLock acquires the lock exclusively without blocking. It returns
// ErrWouldBlock when the lock is held by another handle.
func (l *File) TryLock() error {
	if l.f == nil {
		return ErrClosed
	}
	return tryLock(l.f)
}

// RLock acquires the lock shared.
func (l *File) RLock() error {
	if l.f == nil {
		return ErrClosed
	}
	return lock(l.f, false)
}

// Unlock releases the lock.
func (l *File) Unlock() error {
	if l.f == nil {
		return ErrClosed
	}
	return unlock(l.f)
}

// Close releases the lock, if held, and closes the file.
func (l *File) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
