// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("memory/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	db, err := vecmem.Open(dir, 384, vecmem.WithColdStore(store))
//
// # Features
//
//   - CRC32C checksums on every upload
//   - Multipart uploads for bodies larger than one part
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
