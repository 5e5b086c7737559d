// Package quantization provides the int8 vector codec used by the Warm tier
// and by the compact WAL node format.
//
// A QuantizedVector stores one int8 code per dimension plus a per-vector
// (scale, offset) pair:
//
//	q := quantization.FromFloat(vector) // 4 bytes/dim → 1 byte/dim (+8 bytes)
//	approx := q.ToFloat()
//	sim := q.CosineApprox(other)        // computed on codes, no reconstruction
//
// The float vector is always the source of truth; the quantized form is a
// derived cache. Reconstruction error per dimension is at most scale/2.
//
// The Codec interface is the collaborator contract consumed by the storage
// tiers; Int8 is the default implementation.
package quantization
