// Package flock provides advisory whole-file locks shared between processes.
//
// Locks are cooperative: they only exclude other holders that also use this
// package (or flock(2) directly) on the same file. Writers take an exclusive
// lock, readers a shared one. Locks belong to the open file description, so
// two handles opened by the same process exclude each other just like two
// processes do.
package flock
