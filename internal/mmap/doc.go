// Package mmap provides memory-mapped file access.
//
// A Mapping is either read-only (Open) or a shared read-write view of a
// file (OpenWritable). Writable mappings can be grown in place with Resize,
// which extends the file and remaps it, and flushed to disk with Sync.
//
//	m, err := mmap.OpenWritable("warm.bin", 1<<20)
//	if err != nil { ... }
//	defer m.Close()
//
//	buf := m.Bytes()
//	// mutate buf ...
//	_ = m.Sync()
//
// # Platform Support
//
//   - Unix: mmap(2), msync(2) and madvise(2) via golang.org/x/sys/unix.
//   - Other platforms: github.com/edsrzf/mmap-go; Advise is a no-op.
//
// # Thread Safety
//
// A Mapping does no locking of its own. Slices returned by Bytes or Region
// become invalid after Resize or Close; callers serialize those calls against
// readers.
package mmap
