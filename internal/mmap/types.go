package mmap

import "errors"

// AccessPattern is a madvise hint for a mapping.
type AccessPattern int

const (
	// AccessDefault leaves read-ahead to the kernel.
	AccessDefault AccessPattern = iota
	// AccessSequential enables aggressive read-ahead, for full scans.
	AccessSequential
	// AccessRandom disables read-ahead, for slot lookups.
	AccessRandom
)

var (
	// ErrClosed is returned by operations on a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for negative sizes and for resizes that shrink.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrOutOfBounds is returned for regions past the end of the mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
	// ErrReadOnly is returned when resizing or flushing a read-only mapping.
	ErrReadOnly = errors.New("mmap: mapping is read-only")
)
