// Package hnsw implements the default index.Index: a Hierarchical Navigable
// Small World graph over L2-normalized vectors scored by cosine similarity.
//
// Removal is a tombstone; removed nodes stay in the graph for navigation and
// are filtered from results. Once tombstones outnumber live nodes the graph
// is rebuilt from the live vectors.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/vecmem/index"
	"github.com/hupe1980/vecmem/model"
)

// Compile time check to ensure HNSW satisfies the index contract.
var _ index.Index = (*HNSW)(nil)

// minCompactSize is the graph size below which tombstones are never compacted.
const minCompactSize = 64

// Options represents the options for configuring HNSW.
type Options struct {
	// M specifies the number of established connections for every new element during construction.
	// The range M=12-48 is ok for most use cases.
	M int

	// EF specifies the size of the dynamic candidate list at query time.
	// Larger EF values improve recall at the cost of increased search time.
	EF int

	// EFConstruction is the size of the dynamic candidate list during insertion.
	EFConstruction int

	// Heuristic selects the diversity heuristic (true) or plain k-NN (false) for neighbour selection.
	Heuristic bool

	// Seed seeds the level generator. Zero picks a fixed default for reproducible graphs.
	Seed int64
}

// DefaultOptions contains the default HNSW parameters.
var DefaultOptions = Options{
	M:              16,
	EF:             64,
	EFConstruction: 200,
	Heuristic:      true,
	Seed:           42,
}

type node struct {
	ID          model.NodeID
	Vector      []float32 // L2-normalized
	Level       int
	Connections [][]uint32 // per level
}

// HNSW represents the Hierarchical Navigable Small World graph
type HNSW struct {
	mu sync.RWMutex

	dimension int
	mmax      int     // Max number of connections per element/per layer
	mmax0     int     // Max for the 0 layer
	ml        float64 // Normalization factor for level generation
	ep        uint32  // Entry point slot
	hasEP     bool
	maxLevel  int

	nodes   []*node
	slots   map[model.NodeID]uint32
	deleted *roaring.Bitmap

	rng  *rand.Rand
	opts Options
}

// New creates a new HNSW instance with the given dimension and options
func New(dimension int, optFns ...func(o *Options)) *HNSW {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would result in division by zero: 1 / log(1)
		opts.M = 2
	}
	if opts.EF < 1 {
		opts.EF = DefaultOptions.EF
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}

	return &HNSW{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / math.Log(float64(opts.M)),
		slots:     make(map[model.NodeID]uint32),
		deleted:   roaring.New(),
		rng:       rand.New(rand.NewSource(opts.Seed)), //nolint:gosec // level generation only
		opts:      opts,
	}
}

// Factory returns an index.Factory producing HNSW graphs with the given options.
func Factory(optFns ...func(o *Options)) index.Factory {
	return func(dimension int) index.Index {
		return New(dimension, optFns...)
	}
}

// Dimension implements index.Index.
func (h *HNSW) Dimension() int {
	return h.dimension
}

// Len implements index.Index.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.slots)
}

// Contains implements index.Index.
func (h *HNSW) Contains(id model.NodeID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.slots[id]
	return ok
}

// Insert implements index.Index. An existing vector for id is replaced.
func (h *HNSW) Insert(id model.NodeID, v []float32) error {
	if len(v) != h.dimension {
		return &index.ErrDimensionMismatch{Expected: h.dimension, Actual: len(v)}
	}

	vec := normalize(v)

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.slots[id]; ok {
		h.deleted.Add(old)
		delete(h.slots, id)
	}
	h.insertLocked(id, vec)
	h.maybeCompactLocked()
	return nil
}

func (h *HNSW) insertLocked(id model.NodeID, vec []float32) {
	slot := uint32(len(h.nodes)) //nolint:gosec // bounded by memory
	level := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))

	n := &node{
		ID:          id,
		Vector:      vec,
		Level:       level,
		Connections: make([][]uint32, level+1),
	}
	h.nodes = append(h.nodes, n)
	h.slots[id] = slot

	if !h.hasEP {
		h.ep = slot
		h.maxLevel = level
		h.hasEP = true
		return
	}

	// Find single shortest path from top layers above our current node, which will be our new starting-point
	curr := h.ep
	currDist := distance(vec, h.nodes[curr].Vector)
	for l := h.maxLevel; l > level; l-- {
		curr, currDist = h.greedyLocked(vec, curr, currDist, l)
	}

	// For all levels equal and below our current node, find the top (closest) candidates and create a link
	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayerLocked(vec, curr, currDist, h.opts.EFConstruction, l)
		neighbours := h.selectNeighbours(candidates, h.mmax)

		n.Connections[l] = make([]uint32, len(neighbours))
		for i, c := range neighbours {
			n.Connections[l][i] = c.slot
		}
		for _, c := range neighbours {
			h.linkLocked(c.slot, slot, l)
		}

		if len(candidates) > 0 {
			curr, currDist = candidates[0].slot, candidates[0].dist
		}
	}

	if level > h.maxLevel {
		h.ep = slot
		h.maxLevel = level
	}
}

// Remove implements index.Index.
func (h *HNSW) Remove(id model.NodeID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	slot, ok := h.slots[id]
	if !ok {
		return false
	}
	delete(h.slots, id)
	h.deleted.Add(slot)
	h.maybeCompactLocked()
	return true
}

// Search implements index.Index.
func (h *HNSW) Search(q []float32, k int) ([]index.Result, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(q) != h.dimension {
		return nil, &index.ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	query := normalize(q)

	h.mu.RLock()
	defer h.mu.RUnlock()

	live := len(h.slots)
	if live == 0 || !h.hasEP {
		return nil, nil
	}

	curr := h.ep
	currDist := distance(query, h.nodes[curr].Vector)
	for l := h.maxLevel; l > 0; l-- {
		curr, currDist = h.greedyLocked(query, curr, currDist, l)
	}

	ef := max(h.opts.EF, k)
	if !h.deleted.IsEmpty() {
		ef += min(int(h.deleted.GetCardinality()), ef) //nolint:gosec // bounded by node count
	}

	candidates := h.searchLayerLocked(query, curr, currDist, ef, 0)
	results := make([]index.Result, 0, min(k, live))
	for _, c := range candidates {
		if h.deleted.Contains(c.slot) {
			continue
		}
		results = append(results, index.Result{ID: h.nodes[c.slot].ID, Score: 1 - c.dist})
		if len(results) == k {
			break
		}
	}

	// A sparse or heavily tombstoned graph can strand live nodes; fall back to a scan.
	if len(results) < k && len(results) < live {
		return h.bruteSearchLocked(query, k), nil
	}
	return results, nil
}

// BruteSearch performs an exact scan over all live vectors.
func (h *HNSW) BruteSearch(q []float32, k int) ([]index.Result, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(q) != h.dimension {
		return nil, &index.ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	query := normalize(q)

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bruteSearchLocked(query, k), nil
}

func (h *HNSW) bruteSearchLocked(query []float32, k int) []index.Result {
	top := &maxHeap{}
	for _, slot := range h.slots {
		d := distance(query, h.nodes[slot].Vector)
		if top.Len() < k {
			heap.Push(top, candidate{slot: slot, dist: d})
		} else if d < (*top)[0].dist {
			(*top)[0] = candidate{slot: slot, dist: d}
			heap.Fix(top, 0)
		}
	}

	results := make([]index.Result, top.Len())
	for i := len(results) - 1; i >= 0; i-- {
		c := heap.Pop(top).(candidate)
		results[i] = index.Result{ID: h.nodes[c.slot].ID, Score: 1 - c.dist}
	}
	index.SortResults(results)
	return results
}

// greedyLocked walks level l towards q and returns the closest node found.
func (h *HNSW) greedyLocked(q []float32, curr uint32, currDist float32, l int) (uint32, float32) {
	for changed := true; changed; {
		changed = false
		n := h.nodes[curr]
		if l >= len(n.Connections) {
			break
		}
		for _, nb := range n.Connections[l] {
			if d := distance(q, h.nodes[nb].Vector); d < currDist {
				curr, currDist = nb, d
				changed = true
			}
		}
	}
	return curr, currDist
}

// searchLayerLocked performs a beam search in level l and returns up to ef
// candidates ordered by ascending distance.
func (h *HNSW) searchLayerLocked(q []float32, ep uint32, epDist float32, ef int, l int) []candidate {
	visited := bitset.New(uint(len(h.nodes)))
	visited.Set(uint(ep))

	candidates := &minHeap{{slot: ep, dist: epDist}}
	top := &maxHeap{{slot: ep, dist: epDist}}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if c.dist > (*top)[0].dist && top.Len() >= ef {
			break
		}

		n := h.nodes[c.slot]
		if l >= len(n.Connections) {
			continue
		}
		for _, nb := range n.Connections[l] {
			if visited.Test(uint(nb)) {
				continue
			}
			visited.Set(uint(nb))

			d := distance(q, h.nodes[nb].Vector)
			if top.Len() < ef || d < (*top)[0].dist {
				heap.Push(candidates, candidate{slot: nb, dist: d})
				heap.Push(top, candidate{slot: nb, dist: d})
				if top.Len() > ef {
					heap.Pop(top)
				}
			}
		}
	}

	out := make([]candidate, top.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(top).(candidate)
	}
	return out
}

// selectNeighbours picks up to m neighbours from candidates sorted by ascending distance.
func (h *HNSW) selectNeighbours(candidates []candidate, m int) []candidate {
	if len(candidates) <= m || !h.opts.Heuristic {
		return candidates[:min(m, len(candidates))]
	}

	selected := make([]candidate, 0, m)
	var pruned []candidate
	for _, c := range candidates {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, s := range selected {
			if distance(h.nodes[c.slot].Vector, h.nodes[s.slot].Vector) < c.dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else {
			pruned = append(pruned, c)
		}
	}

	// Add any additional pruned items if the result is still short of m
	for i := 0; len(selected) < m && i < len(pruned); i++ {
		selected = append(selected, pruned[i])
	}
	return selected
}

// linkLocked adds a link first → second at level l, shrinking the neighbour list when it overflows.
func (h *HNSW) linkLocked(first, second uint32, l int) {
	maxConnections := h.mmax
	// HNSW allows double the connections for the bottom level (0)
	if l == 0 {
		maxConnections = h.mmax0
	}

	n := h.nodes[first]
	n.Connections[l] = append(n.Connections[l], second)
	if len(n.Connections[l]) <= maxConnections {
		return
	}

	candidates := make([]candidate, len(n.Connections[l]))
	for i, nb := range n.Connections[l] {
		candidates[i] = candidate{slot: nb, dist: distance(n.Vector, h.nodes[nb].Vector)}
	}
	sortCandidates(candidates)

	selected := h.selectNeighbours(candidates, maxConnections)
	conns := make([]uint32, len(selected))
	for i, c := range selected {
		conns[i] = c.slot
	}
	n.Connections[l] = conns
}

// maybeCompactLocked rebuilds the graph once tombstones outnumber live nodes.
func (h *HNSW) maybeCompactLocked() {
	if len(h.nodes) < minCompactSize || int(h.deleted.GetCardinality()) <= len(h.slots) { //nolint:gosec // bounded by node count
		return
	}

	old := h.nodes
	live := make([]*node, 0, len(h.slots))
	for _, n := range old {
		if slot, ok := h.slots[n.ID]; ok && old[slot] == n {
			live = append(live, n)
		}
	}

	h.nodes = make([]*node, 0, len(live))
	h.slots = make(map[model.NodeID]uint32, len(live))
	h.deleted = roaring.New()
	h.hasEP = false
	h.maxLevel = 0
	h.ep = 0

	for _, n := range live {
		h.insertLocked(n.ID, n.Vector)
	}
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	inv := float32(1 / math.Sqrt(norm))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

// distance is the cosine distance between two normalized vectors.
func distance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}
