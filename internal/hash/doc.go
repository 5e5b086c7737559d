// Package hash provides the checksum used by every on-disk format.
//
// All checksums are CRC32-Castagnoli (CRC32C), which the Go runtime computes
// with hardware instructions where available (SSE4.2, ARM CRC).
//
//	checksum := hash.CRC32C(payload)
//	sealed := hash.AppendCRC32C(body)
package hash
