package hnsw

import (
	"bytes"
	"encoding"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/vecmem/model"
)

// Compile time checks to ensure HNSW satisfies the binary marshaling interfaces.
var (
	_ encoding.BinaryMarshaler   = (*HNSW)(nil)
	_ encoding.BinaryUnmarshaler = (*HNSW)(nil)
)

// MarshalBinary encodes the graph, including tombstones, with gob.
func (h *HNSW) MarshalBinary() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	deleted, err := h.deleted.ToBytes()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)

	for _, v := range []any{h.dimension, h.opts, h.ep, h.hasEP, h.maxLevel, h.nodes, deleted} {
		if err := encoder.Encode(v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the graph with one produced by MarshalBinary.
func (h *HNSW) UnmarshalBinary(data []byte) error {
	var (
		dimension int
		opts      Options
		ep        uint32
		hasEP     bool
		maxLevel  int
		nodes     []*node
		deleted   []byte
	)

	decoder := gob.NewDecoder(bytes.NewReader(data))
	for _, v := range []any{&dimension, &opts, &ep, &hasEP, &maxLevel, &nodes, &deleted} {
		if err := decoder.Decode(v); err != nil {
			return err
		}
	}

	if h.dimension != 0 && dimension != h.dimension {
		return fmt.Errorf("hnsw: encoded dimension %d does not match %d", dimension, h.dimension)
	}
	if hasEP && int(ep) >= len(nodes) {
		return fmt.Errorf("hnsw: entry point %d out of range", ep)
	}

	tombstones := roaring.New()
	if err := tombstones.UnmarshalBinary(deleted); err != nil {
		return err
	}

	slots := make(map[model.NodeID]uint32, len(nodes))
	for i, n := range nodes {
		if n == nil || len(n.Vector) != dimension {
			return fmt.Errorf("hnsw: malformed node at slot %d", i)
		}
		for _, level := range n.Connections {
			for _, nb := range level {
				if int(nb) >= len(nodes) {
					return fmt.Errorf("hnsw: neighbour %d out of range at slot %d", nb, i)
				}
			}
		}
		if !tombstones.Contains(uint32(i)) { //nolint:gosec // bounded by node count
			slots[n.ID] = uint32(i) //nolint:gosec // bounded by node count
		}
	}

	if opts.M < 2 {
		opts.M = 2
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.dimension = dimension
	h.opts = opts
	h.mmax = opts.M
	h.mmax0 = 2 * opts.M
	h.ml = 1 / math.Log(float64(opts.M))
	h.ep = ep
	h.hasEP = hasEP
	h.maxLevel = maxLevel
	h.nodes = nodes
	h.slots = slots
	h.deleted = tombstones
	h.rng = rand.New(rand.NewSource(opts.Seed + int64(len(nodes)))) //nolint:gosec // level generation only

	return nil
}
