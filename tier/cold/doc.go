// Package cold implements the metadata-only tier.
//
// Vectors are discarded on demotion; a record keeps the node's metadata,
// payload, edges and tags. The whole table is loaded on Open and rewritten as
// a single blob on Save through a blobstore.Store, so the tier can live on a
// local disk, MinIO or S3. Cold records are not searchable.
//
// Blob layout, little endian:
//
//	magic u32 · version u32 · compression u8 · reserved 3 B
//	raw length u64 · stored length u64 · body · crc32c u32
//
// The CRC covers every preceding byte. The raw body is a u64 record count
// followed by node records without vectors.
package cold
