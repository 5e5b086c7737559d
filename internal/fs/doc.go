// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with read/write/sync capabilities
//   - [FileSystem]: filesystem operations (open, remove, rename, ...)
//
// Production code uses fs.Default ([LocalFS]). Tests inject [FaultyFS] to
// make writes, syncs or renames fail at a chosen point:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".tmp", fs.Fault{FailOnSync: true})
//
// [WriteFileAtomic] implements the temp-file, fsync, rename, directory-fsync
// sequence used for snapshot files.
package fs
