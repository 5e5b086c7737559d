package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is a flat namespace of whole blobs.
//
// Put must replace the blob atomically: a concurrent or later Get observes
// either the previous contents or the new ones, never a mix.
type Store interface {
	// Get reads the whole blob.
	Get(ctx context.Context, name string) ([]byte, error)
	// Put writes the whole blob, replacing any previous one.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
