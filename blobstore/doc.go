// Package blobstore provides the whole-object storage used by the cold tier.
//
// The cold tier is small enough to be read and rewritten as one object, so
// the contract is reduced to Get, Put, Delete and List. Implementations must
// be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: a directory on the local file system (atomic rename writes)
//   - MemoryStore: process memory, for tests
//   - minio.Store: MinIO and other S3-compatible services
//   - s3.Store: Amazon S3 through aws-sdk-go-v2
package blobstore
