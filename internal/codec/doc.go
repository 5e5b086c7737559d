// Package codec implements the little-endian binary node record shared by the
// WAL full-node entries, hot snapshots and the warm tier's extras file.
//
// Record layout:
//
//	id(16) type(1) created(i64) accessed(i64) decay(f32)
//	mu(f32) sigma_sq(f32) n(u32) conf_updated(i64)
//	dim(u32) vector
//	payload_len(u32) payload
//	edge_count(u32) { target(16) type(1) weight(f32) }
//	tag_count(u32)  { len(u16) bytes }
//
// The vector is dim float32 values (VectorFloat32) or scale(f32) offset(f32)
// followed by dim int8 codes (VectorInt8). The trailing payload/edges/tags
// block is also encoded on its own as "extras".
package codec
