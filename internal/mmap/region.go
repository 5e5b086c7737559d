package mmap

// Region is a bounds-checked view into a Mapping. It does not own the
// memory; the parent Mapping does.
type Region struct {
	parent *Mapping
	gen    uint64
	offset int
	size   int
}

// Region returns a view of [offset, offset+size).
func (m *Mapping) Region(offset, size int) (*Region, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if offset < 0 || size < 0 || offset > m.size-size {
		return nil, ErrOutOfBounds
	}
	return &Region{
		parent: m,
		gen:    m.gen.Load(),
		offset: offset,
		size:   size,
	}, nil
}

// Bytes returns the memory of the region. It returns nil once the parent
// was resized or closed; the slice itself must not be kept past either.
func (r *Region) Bytes() []byte {
	if !r.Valid() {
		return nil
	}
	end := r.offset + r.size
	return r.parent.data[r.offset:end:end]
}

// Len returns the size of the region in bytes.
func (r *Region) Len() int {
	return r.size
}

// Valid reports whether the parent mapping still backs the region.
func (r *Region) Valid() bool {
	return !r.parent.closed.Load() && r.parent.gen.Load() == r.gen
}
