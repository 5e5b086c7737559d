package model

import (
	"slices"
	"time"
)

// NodeType is a small caller-defined tag.
type NodeType uint8

// EdgeType is a small caller-defined tag.
type EdgeType uint8

// Confidence is the Bayesian confidence state of a node.
type Confidence struct {
	Mu        float32 // Mean
	SigmaSq   float32 // Variance
	N         uint32  // Sample count
	UpdatedAt int64   // Unix ms of the last update
}

// Edge is a directed, weighted link to another node.
type Edge struct {
	Target NodeID
	Type   EdgeType
	Weight float32
}

// Node is the unit of storage.
type Node struct {
	ID         NodeID
	Type       NodeType
	Vector     []float32
	Confidence Confidence
	DecayRate  float32
	CreatedAt  int64 // Unix ms
	AccessedAt int64 // Unix ms
	Payload    []byte
	Edges      []Edge
	Tags       []string
}

// NewNode returns a node with a fresh identifier and both timestamps set to now.
func NewNode(typ NodeType, vector []float32) *Node {
	now := NowMillis()
	return &Node{
		ID:         NewNodeID(),
		Type:       typ,
		Vector:     vector,
		CreatedAt:  now,
		AccessedAt: now,
		Confidence: Confidence{Mu: 0.5, SigmaSq: 0.25, UpdatedAt: now},
	}
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Vector = slices.Clone(n.Vector)
	c.Payload = slices.Clone(n.Payload)
	c.Edges = slices.Clone(n.Edges)
	c.Tags = slices.Clone(n.Tags)
	return &c
}

// Meta returns the compact projection of n for the given tier.
func (n *Node) Meta(tier StorageTier) NodeMeta {
	return NodeMeta{
		ID:         n.ID,
		Type:       n.Type,
		Tier:       tier,
		CreatedAt:  n.CreatedAt,
		AccessedAt: n.AccessedAt,
		Confidence: n.Confidence,
		DecayRate:  n.DecayRate,
	}
}

// HasTag reports whether n carries the exact tag.
func (n *Node) HasTag(tag string) bool {
	return slices.Contains(n.Tags, tag)
}

// UpsertEdge adds e, or updates the weight of an existing edge with the same
// target and type. It reports whether the edge list changed.
func (n *Node) UpsertEdge(e Edge) bool {
	for i := range n.Edges {
		if n.Edges[i].Target == e.Target && n.Edges[i].Type == e.Type {
			if n.Edges[i].Weight == e.Weight {
				return false
			}
			n.Edges[i].Weight = e.Weight
			return true
		}
	}
	n.Edges = append(n.Edges, e)
	return true
}

// NodeMeta is the compact per-node record kept by the Warm and Cold tiers.
type NodeMeta struct {
	ID         NodeID
	Type       NodeType
	Tier       StorageTier
	CreatedAt  int64
	AccessedAt int64
	Confidence Confidence
	DecayRate  float32
}

// ToNode expands the projection into a node without vector, payload or edges.
func (m NodeMeta) ToNode() *Node {
	return &Node{
		ID:         m.ID,
		Type:       m.Type,
		Confidence: m.Confidence,
		DecayRate:  m.DecayRate,
		CreatedAt:  m.CreatedAt,
		AccessedAt: m.AccessedAt,
	}
}

// NowMillis returns the current wall clock in Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
