package fs

import (
	"io"
	"os"
)

// File is the subset of *os.File the persistence code writes through.
type File interface {
	io.WriteCloser
	Sync() error
}

// FileSystem is the set of operations used by atomic file replacement and
// the local blob store.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	ReadFile(name string) ([]byte, error)
	Rename(oldpath, newpath string) error
	Remove(name string) error
	MkdirAll(path string, perm os.FileMode) error
}

// LocalFS is the operating system's file system.
type LocalFS struct{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(name, flag, perm) //nolint:gosec // G304: callers own the path
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (LocalFS) ReadFile(name string) ([]byte, error)         { return os.ReadFile(name) } //nolint:gosec // G304: callers own the path
func (LocalFS) Rename(oldpath, newpath string) error         { return os.Rename(oldpath, newpath) }
func (LocalFS) Remove(name string) error                     { return os.Remove(name) }
func (LocalFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

// Default is the local file system.
var Default FileSystem = LocalFS{}
