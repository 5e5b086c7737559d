package hot

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hupe1980/vecmem/index"
	"github.com/hupe1980/vecmem/index/hnsw"
	"github.com/hupe1980/vecmem/internal/flock"
	"github.com/hupe1980/vecmem/internal/fs"
	"github.com/hupe1980/vecmem/model"
)

// Options configures a Tier.
type Options struct {
	// IndexFactory builds the ANN index. Defaults to HNSW.
	IndexFactory index.Factory
	// FS is used for snapshot writes. Defaults to the local file system.
	FS fs.FileSystem
	// Logger receives snapshot diagnostics.
	Logger *slog.Logger
}

// Tier is the in-memory hot tier. It is safe for concurrent use.
type Tier struct {
	mu        sync.RWMutex
	dimension int
	nodes     map[model.NodeID]*model.Node
	index     index.Index
	legacy    bool

	opts   Options
	logger *slog.Logger
}

// New returns an empty tier for vectors of the given dimension.
func New(dimension int, optFns ...func(o *Options)) *Tier {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.IndexFactory == nil {
		opts.IndexFactory = hnsw.Factory()
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Tier{
		dimension: dimension,
		nodes:     make(map[model.NodeID]*model.Node),
		index:     opts.IndexFactory(dimension),
		opts:      opts,
		logger:    logger.With("component", "hot"),
	}
}

// Dimension returns the vector dimension.
func (t *Tier) Dimension() int {
	return t.dimension
}

// Insert adds or replaces n. The tier takes ownership of n.
func (t *Tier) Insert(n *model.Node) error {
	if len(n.Vector) != t.dimension {
		return &index.ErrDimensionMismatch{Expected: t.dimension, Actual: len(n.Vector)}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.index.Insert(n.ID, n.Vector); err != nil {
		return err
	}
	t.nodes[n.ID] = n
	return nil
}

// Get returns a copy of the node stored under id.
func (t *Tier) Get(id model.NodeID) (*model.Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Update calls fn with the stored node under the write lock. fn must not
// change the vector.
func (t *Tier) Update(id model.NodeID, fn func(n *model.Node)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return false
	}
	fn(n)
	return true
}

// Remove deletes id and returns the node it held.
func (t *Tier) Remove(id model.NodeID) (*model.Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	delete(t.nodes, id)
	t.index.Remove(id)
	return n, true
}

// Contains reports whether id is stored.
func (t *Tier) Contains(id model.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[id]
	return ok
}

// Len returns the number of stored nodes.
func (t *Tier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Search returns up to k nearest nodes by cosine similarity.
func (t *Tier) Search(q []float32, k int) ([]index.Result, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.index.Search(q, k)
}

// Range calls fn for every node until fn returns false. Nodes must not be
// modified or retained.
func (t *Tier) Range(fn func(n *model.Node) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, n := range t.nodes {
		if !fn(n) {
			return
		}
	}
}

// Legacy reports whether the last Load read a version 2 snapshot that has not
// been rewritten yet.
func (t *Tier) Legacy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.legacy
}

// Save writes a snapshot of the tier to path. watermark is stored alongside
// and returned by Load; callers use it for the last WAL sequence the
// snapshot contains.
func (t *Tier) Save(path string, watermark uint64) error {
	t.mu.RLock()
	data, err := t.marshalLocked(Version, watermark)
	t.mu.RUnlock()
	if err != nil {
		return err
	}

	lock, err := flock.Open(path + ".lock")
	if err != nil {
		return fmt.Errorf("failed to open snapshot lock: %w", err)
	}
	defer lock.Close()

	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock snapshot: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := fs.WriteFileAtomic(t.opts.FS, path, data, 0o644); err != nil {
		t.logger.Error("snapshot save failed", "path", path, "error", err)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	t.mu.Lock()
	t.legacy = false
	t.mu.Unlock()

	t.logger.Debug("snapshot saved", "path", path, "bytes", len(data), "watermark", watermark)
	return nil
}

func (t *Tier) marshalLocked(version uint32, watermark uint64) ([]byte, error) {
	blob, err := t.index.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize index: %w", err)
	}

	nodes := make([]*model.Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID.Compare(nodes[j].ID) < 0 })

	return marshalSnapshot(version, watermark, nodes, blob)
}

// Load replaces the contents of the tier with the snapshot at path and
// returns its watermark. Nothing is changed when validation fails.
func (t *Tier) Load(path string) (uint64, error) {
	lock, err := flock.Open(path + ".lock")
	if err != nil {
		return 0, fmt.Errorf("failed to open snapshot lock: %w", err)
	}
	defer lock.Close()

	if err := lock.RLock(); err != nil {
		return 0, fmt.Errorf("failed to lock snapshot: %w", err)
	}
	data, err := t.opts.FS.ReadFile(path)
	_ = lock.Unlock()
	if err != nil {
		return 0, err
	}

	s, err := unmarshalSnapshot(data)
	if err != nil {
		if errors.Is(err, ErrCorrupted) || errors.Is(err, ErrNeedsUpgrade) || errors.Is(err, ErrNeedsNewerBinary) {
			t.logger.Error("snapshot rejected", "path", path, "error", err)
		}
		return 0, err
	}

	nodes := make(map[model.NodeID]*model.Node, len(s.nodes))
	for _, n := range s.nodes {
		if len(n.Vector) != t.dimension {
			return 0, &index.ErrDimensionMismatch{Expected: t.dimension, Actual: len(n.Vector)}
		}
		nodes[n.ID] = n
	}

	idx := t.opts.IndexFactory(t.dimension)
	if err := idx.UnmarshalBinary(s.indexBlob); err != nil || !indexMatches(idx, nodes) {
		t.logger.Warn("snapshot index unusable, rebuilding from vectors", "path", path, "error", err)
		idx = t.opts.IndexFactory(t.dimension)
		for _, n := range s.nodes {
			if err := idx.Insert(n.ID, n.Vector); err != nil {
				return 0, err
			}
		}
	}

	legacy := !s.Checksum
	if legacy {
		t.logger.Warn("loaded legacy snapshot without checksum; it will be upgraded on next save",
			"path", path, "version", s.Version)
	}

	t.mu.Lock()
	t.nodes = nodes
	t.index = idx
	t.legacy = legacy
	t.mu.Unlock()

	return s.Watermark, nil
}

func indexMatches(idx index.Index, nodes map[model.NodeID]*model.Node) bool {
	if idx.Len() != len(nodes) {
		return false
	}
	for id := range nodes {
		if !idx.Contains(id) {
			return false
		}
	}
	return true
}
