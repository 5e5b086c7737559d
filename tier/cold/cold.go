package cold

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/hupe1980/vecmem/blobstore"
	"github.com/hupe1980/vecmem/model"
)

// DefaultBlobName is the blob the tier is stored under unless overridden.
const DefaultBlobName = "cold.bin"

// Record is what the cold tier keeps of a node: everything but the vector.
type Record struct {
	Meta    model.NodeMeta
	Payload []byte
	Edges   []model.Edge
	Tags    []string
}

// RecordFromNode projects n into a record. Slices are shared with n.
func RecordFromNode(n *model.Node) *Record {
	return &Record{
		Meta:    n.Meta(model.TierCold),
		Payload: n.Payload,
		Edges:   n.Edges,
		Tags:    n.Tags,
	}
}

// Node expands the record into a node without a vector. Slices are shared
// with r.
func (r *Record) Node() *model.Node {
	n := r.Meta.ToNode()
	n.Payload = r.Payload
	n.Edges = r.Edges
	n.Tags = r.Tags
	return n
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Payload = slices.Clone(r.Payload)
	c.Edges = slices.Clone(r.Edges)
	c.Tags = slices.Clone(r.Tags)
	return &c
}

// Options configures a Tier.
type Options struct {
	// Store holds the tier blob. Required.
	Store blobstore.Store
	// Name is the blob name. Defaults to DefaultBlobName.
	Name string
	// Compression is used by Save.
	Compression Compression
	// Logger receives diagnostics.
	Logger *slog.Logger
}

// Tier is the cold tier. It is safe for concurrent use.
type Tier struct {
	mu      sync.RWMutex
	records map[model.NodeID]*Record
	gen     uint64 // bumped on every mutation
	saved   uint64 // gen captured by the last successful Save

	opts   Options
	logger *slog.Logger
}

// Open loads the tier blob from the configured store. A missing blob yields
// an empty tier.
func Open(ctx context.Context, optFns ...func(o *Options)) (*Tier, error) {
	opts := Options{Name: DefaultBlobName}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		return nil, errors.New("cold: blob store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	t := &Tier{
		records: make(map[model.NodeID]*Record),
		opts:    opts,
		logger:  opts.Logger.With("component", "cold", "blob", opts.Name),
	}

	data, err := opts.Store.Get(ctx, opts.Name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return t, nil
		}
		return nil, fmt.Errorf("failed to read cold tier: %w", err)
	}

	records, c, err := unmarshalBlob(data)
	if err != nil {
		t.logger.Error("cold tier rejected", "error", err)
		return nil, err
	}
	t.records = records

	t.logger.Info("cold tier loaded", "records", len(records), "compression", c.String(), "bytes", len(data))
	return t, nil
}

// Len returns the number of records.
func (t *Tier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Contains reports whether id is stored.
func (t *Tier) Contains(id model.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.records[id]
	return ok
}

// Insert stores the vector-less projection of n, replacing any previous
// record for the same id.
func (t *Tier) Insert(n *model.Node) {
	r := RecordFromNode(n.Clone())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[n.ID] = r
	t.gen++
}

// Get returns a copy of the record for id.
func (t *Tier) Get(id model.NodeID) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.records[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Remove deletes id. It reports whether id was present.
func (t *Tier) Remove(id model.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[id]; !ok {
		return false
	}
	delete(t.records, id)
	t.gen++
	return true
}

// Update applies fn to the stored record for id. It reports whether id was
// found.
func (t *Tier) Update(id model.NodeID, fn func(r *Record)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[id]
	if !ok {
		return false
	}
	fn(r)
	r.Meta.ID = id
	r.Meta.Tier = model.TierCold
	t.gen++
	return true
}

// Range calls fn with the metadata of every record until fn returns false.
func (t *Tier) Range(fn func(m model.NodeMeta) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.records {
		if !fn(r.Meta) {
			return
		}
	}
}

// CandidatesForPromotion returns up to n records with the most recent access
// time, newest first.
func (t *Tier) CandidatesForPromotion(n int) []model.NodeMeta {
	if n <= 0 {
		return nil
	}

	t.mu.RLock()
	h := make(recencyHeap, 0, n)
	for _, r := range t.records {
		switch {
		case len(h) < n:
			heap.Push(&h, r.Meta)
		case newer(r.Meta, h[0]):
			h[0] = r.Meta
			heap.Fix(&h, 0)
		}
	}
	t.mu.RUnlock()

	sort.Slice(h, func(i, j int) bool { return newer(h[i], h[j]) })
	return h
}

// Dirty reports whether the tier changed since the last Save or Open.
func (t *Tier) Dirty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gen != t.saved
}

// Save rewrites the whole tier blob if anything changed.
func (t *Tier) Save(ctx context.Context) error {
	t.mu.RLock()
	if t.gen == t.saved {
		t.mu.RUnlock()
		return nil
	}
	gen := t.gen
	records := make([]*Record, 0, len(t.records))
	for _, r := range t.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Meta.ID.Compare(records[j].Meta.ID) < 0 })
	data, err := marshalBlob(records, t.opts.Compression)
	t.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := t.opts.Store.Put(ctx, t.opts.Name, data); err != nil {
		t.logger.Error("cold tier save failed", "error", err)
		return fmt.Errorf("failed to write cold tier: %w", err)
	}

	// Mutations that raced with the upload keep the tier dirty.
	t.mu.Lock()
	if gen > t.saved {
		t.saved = gen
	}
	t.mu.Unlock()

	t.logger.Debug("cold tier saved", "records", len(records), "bytes", len(data))
	return nil
}

// newer orders by access time, breaking ties by id.
func newer(a, b model.NodeMeta) bool {
	if a.AccessedAt != b.AccessedAt {
		return a.AccessedAt > b.AccessedAt
	}
	return a.ID.Compare(b.ID) < 0
}

// recencyHeap is a min-heap on recency; the root is the oldest kept entry.
type recencyHeap []model.NodeMeta

func (h recencyHeap) Len() int           { return len(h) }
func (h recencyHeap) Less(i, j int) bool { return newer(h[j], h[i]) }
func (h recencyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *recencyHeap) Push(x any) { *h = append(*h, x.(model.NodeMeta)) }

func (h *recencyHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
