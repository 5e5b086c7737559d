// Package hot implements the full-precision in-memory tier.
//
// A Tier is a NodeID → node table with an ANN index kept in lockstep.
// Snapshots are written atomically (temp file, fsync, rename, directory
// fsync) while holding an exclusive lock on a sibling ".lock" file, and read
// under a shared lock on the same file.
//
// Snapshot layout, little endian:
//
//	magic u32 · version u32 · count u64 · watermark u64 (v3 only)
//	count × node record (internal/codec, float32 vectors)
//	index length u64 · index blob
//	crc32c u32 over everything above · footer magic u32 (v3 only)
//
// Version 2 files carry no watermark and no checksum. They load with a
// warning and Legacy reports true until the next Save rewrites them as v3.
package hot
