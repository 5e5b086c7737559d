// Package warm implements the memory-mapped, int8-quantized tier.
//
// The tier file has a fixed capacity chosen at creation and grows only
// through an explicit Grow. Layout, little endian:
//
//	header (64 bytes)
//	  magic u32 · version u32 · dimension u32 · capacity u32 · used u32
//	  reserved u32 · meta offset u64 · vector offset u64 · extras size u64
//	capacity × meta record (80 bytes)
//	capacity × quantized vector (scale f32 · offset f32 · dim × i8, 8-byte aligned)
//
// A slot is live when its meta flag says so. Payload, edges and tags live
// in an append-only sidecar file ("<path>.extra") of checksummed records
// referenced from the meta record; superseded records are never reclaimed.
//
// The ANN index is not persisted. Open rebuilds it from the dequantized
// vectors of all live slots.
package warm
