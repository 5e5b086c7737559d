// Package model defines the core types shared by every storage tier.
//
// # Identity
//
//   - NodeID: 128-bit globally unique identifier, the join key across tiers,
//     the WAL and the ANN index.
//
// # Data Types
//
//   - Node: the unit of storage (vector, confidence, timestamps, payload,
//     edges and tags).
//   - NodeMeta: compact projection of a Node without vector, payload and edges.
//   - StorageTier: Hot, Warm or Cold.
//
// Timestamps are Unix milliseconds.
package model
