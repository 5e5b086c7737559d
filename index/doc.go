// Package index defines the approximate nearest neighbour contract used inside
// every searchable storage tier.
//
// Implementations key vectors by model.NodeID and score results by cosine
// similarity (higher is better). The default implementation lives in
// index/hnsw.
package index
