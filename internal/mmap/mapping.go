package mmap

import (
	"io"
	"os"
	"sync/atomic"
)

// Mapping represents a memory-mapped file.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	f        *os.File // kept open for writable mappings only
	data     []byte
	size     int
	writable bool
	closed   atomic.Bool
	gen      atomic.Uint64 // bumped by every remap
	unmap    func([]byte) error
}

// Open maps the file at path into memory as read-only.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := fi.Size()
	if size < 0 || int64(int(size)) != size {
		return nil, ErrInvalidSize
	}
	if size == 0 {
		return &Mapping{}, nil
	}

	data, unmap, err := osMap(f, int(size), false)
	if err != nil {
		return nil, err
	}

	return &Mapping{data: data, size: int(size), unmap: unmap}, nil
}

// OpenWritable maps the file at path read-write and shared, creating it if
// needed. A file shorter than minSize is extended to minSize first.
func OpenWritable(path string, minSize int) (*Mapping, error) {
	if minSize < 0 {
		return nil, ErrInvalidSize
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	size := int(fi.Size())
	if size < minSize {
		if err := f.Truncate(int64(minSize)); err != nil {
			_ = f.Close()
			return nil, err
		}
		size = minSize
	}

	m := &Mapping{f: f, size: size, writable: true}
	if size > 0 {
		data, unmap, err := osMap(f, size, true)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		m.data, m.unmap = data, unmap
	}
	return m, nil
}

// Bytes returns the underlying byte slice.
// The slice is valid only until Resize or Close is called.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return m.size
}

// Writable reports whether the mapping was opened read-write.
func (m *Mapping) Writable() bool {
	return m.writable
}

// Resize grows a writable mapping to newSize bytes, extending the file and
// remapping it. Existing contents are preserved.
func (m *Mapping) Resize(newSize int) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.writable {
		return ErrReadOnly
	}
	if newSize < m.size {
		return ErrInvalidSize
	}
	if newSize == m.size {
		return nil
	}

	if m.data != nil {
		if err := osSync(m.data); err != nil {
			return err
		}
		if err := m.unmap(m.data); err != nil {
			return err
		}
		m.data = nil
	}

	if err := m.f.Truncate(int64(newSize)); err != nil {
		return err
	}

	data, unmap, err := osMap(m.f, newSize, true)
	if err != nil {
		return err
	}
	m.data, m.unmap, m.size = data, unmap, newSize
	m.gen.Add(1)
	return nil
}

// Sync flushes dirty pages of a writable mapping to the file.
func (m *Mapping) Sync() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.writable || m.data == nil {
		return nil
	}
	return osSync(m.data)
}

// Advise provides hints to the kernel about how the memory will be accessed.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.data == nil {
		return nil
	}
	return osAdvise(m.data, pattern)
}

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (n int, err error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n = copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the memory and, for writable mappings, syncs and closes the
// file. It is idempotent.
func (m *Mapping) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if m.data != nil {
		if m.writable {
			err = osSync(m.data)
		}
		if uerr := m.unmap(m.data); uerr != nil && err == nil {
			err = uerr
		}
		m.data = nil
	}
	if m.f != nil {
		if cerr := m.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		m.f = nil
	}
	return err
}
