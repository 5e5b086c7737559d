package warm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/vecmem/index"
	"github.com/hupe1980/vecmem/index/hnsw"
	"github.com/hupe1980/vecmem/internal/codec"
	"github.com/hupe1980/vecmem/internal/fs"
	"github.com/hupe1980/vecmem/internal/hash"
	"github.com/hupe1980/vecmem/internal/mmap"
	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/quantization"
)

// ExtraSuffix is appended to the tier file path to name the extras sidecar.
const ExtraSuffix = ".extra"

var (
	// ErrCapacityExhausted is returned by Insert when every slot is live.
	ErrCapacityExhausted = errors.New("warm: capacity exhausted")
	// ErrCorrupted is returned when the tier file or its sidecar is malformed.
	ErrCorrupted = errors.New("warm: corrupted tier file")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("warm: tier is closed")
	// ErrNotFound is returned by Get for ids that are not live.
	ErrNotFound = errors.New("warm: node not found")
)

// Options configures a Tier.
type Options struct {
	// IndexFactory builds the ANN index. Defaults to HNSW.
	IndexFactory index.Factory
	// Quantizer encodes and reconstructs slot vectors. Defaults to
	// quantization.Int8.
	Quantizer quantization.Codec
	// Logger receives diagnostics.
	Logger *slog.Logger
}

// Tier is the memory-mapped warm tier. It is safe for concurrent use by one
// process; the file is not shared between processes.
type Tier struct {
	mu sync.RWMutex

	path   string
	m      *mmap.Mapping
	extras *os.File
	hdr    fileHeader
	dim    int
	vs     int
	qc     quantization.Codec

	slots map[model.NodeID]uint32
	live  *roaring.Bitmap
	free  *roaring.Bitmap
	index index.Index

	logger *slog.Logger
}

func applyOptions(optFns []func(*Options)) Options {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.IndexFactory == nil {
		opts.IndexFactory = hnsw.Factory()
	}
	if opts.Quantizer == nil {
		opts.Quantizer = quantization.Int8{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return opts
}

// Create pre-allocates a new tier file with room for capacity nodes. It fails
// if path already exists.
func Create(path string, dimension, capacity int, optFns ...func(o *Options)) (*Tier, error) {
	if dimension <= 0 || dimension > codec.MaxDimension {
		return nil, fmt.Errorf("warm: invalid dimension %d", dimension)
	}
	if capacity < 0 || uint64(capacity) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("warm: invalid capacity %d", capacity)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("warm: create %s: %w", path, os.ErrExist)
	}

	opts := applyOptions(optFns)

	m, err := mmap.OpenWritable(path, fileSize(dimension, capacity))
	if err != nil {
		return nil, fmt.Errorf("failed to map warm tier: %w", err)
	}

	extras, err := os.OpenFile(path+ExtraSuffix, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		_ = m.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to open warm extras: %w", err)
	}

	t := &Tier{
		path:   path,
		m:      m,
		extras: extras,
		hdr: fileHeader{
			Magic:      Magic,
			Version:    Version,
			Dimension:  uint32(dimension), //nolint:gosec // bounded by MaxDimension
			Capacity:   uint32(capacity),  //nolint:gosec // checked above
			MetaOffset: headerSize,
			VecOffset:  uint64(headerSize + capacity*metaStride), //nolint:gosec // non-negative
		},
		dim:    dimension,
		vs:     vectorStride(dimension),
		qc:     opts.Quantizer,
		slots:  make(map[model.NodeID]uint32),
		live:   roaring.New(),
		free:   roaring.New(),
		index:  opts.IndexFactory(dimension),
		logger: opts.Logger.With("component", "warm", "path", path),
	}

	t.writeHeaderLocked()
	if err := m.Sync(); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

// Open maps an existing tier file and rebuilds the slot table and the index
// from its live slots.
func Open(path string, dimension int, optFns ...func(o *Options)) (*Tier, error) {
	opts := applyOptions(optFns)
	logger := opts.Logger.With("component", "warm", "path", path)

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	m, err := mmap.OpenWritable(path, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to map warm tier: %w", err)
	}

	t, err := attach(path, m, dimension, opts, logger)
	if err != nil {
		_ = m.Close()
		if errors.Is(err, ErrCorrupted) {
			logger.Error("warm tier rejected", "error", err)
		}
		return nil, err
	}

	if err := t.m.Advise(mmap.AccessRandom); err != nil {
		logger.Debug("madvise failed", "error", err)
	}

	logger.Info("warm tier opened", "live", t.live.GetCardinality(), "capacity", t.hdr.Capacity)
	return t, nil
}

func attach(path string, m *mmap.Mapping, dimension int, opts Options, logger *slog.Logger) (*Tier, error) {
	raw, err := m.Region(0, headerSize)
	if err != nil {
		return nil, fmt.Errorf("%w: file shorter than header", ErrCorrupted)
	}
	hdr := decodeFileHeader(raw.Bytes())

	switch {
	case hdr.Magic != Magic:
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorrupted, hdr.Magic)
	case hdr.Version != Version:
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupted, hdr.Version)
	case int(hdr.Dimension) != dimension:
		return nil, &index.ErrDimensionMismatch{Expected: dimension, Actual: int(hdr.Dimension)}
	case hdr.Used > hdr.Capacity:
		return nil, fmt.Errorf("%w: %d used slots exceed capacity %d", ErrCorrupted, hdr.Used, hdr.Capacity)
	case hdr.MetaOffset != headerSize,
		hdr.VecOffset != uint64(headerSize)+uint64(hdr.Capacity)*metaStride:
		return nil, fmt.Errorf("%w: inconsistent section offsets", ErrCorrupted)
	case m.Size() < fileSize(dimension, int(hdr.Capacity)):
		return nil, fmt.Errorf("%w: file truncated", ErrCorrupted)
	}

	extras, err := os.OpenFile(path+ExtraSuffix, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open warm extras: %w", err)
	}
	st, err := extras.Stat()
	if err != nil {
		_ = extras.Close()
		return nil, err
	}
	switch {
	case uint64(st.Size()) < hdr.ExtrasSize: //nolint:gosec // file sizes are non-negative
		_ = extras.Close()
		return nil, fmt.Errorf("%w: extras sidecar truncated", ErrCorrupted)
	case uint64(st.Size()) > hdr.ExtrasSize: //nolint:gosec // file sizes are non-negative
		// Appends that never reached the header.
		if err := extras.Truncate(int64(hdr.ExtrasSize)); err != nil { //nolint:gosec // bounded by file size
			_ = extras.Close()
			return nil, err
		}
	}

	t := &Tier{
		path:   path,
		m:      m,
		extras: extras,
		hdr:    hdr,
		dim:    dimension,
		vs:     vectorStride(dimension),
		qc:     opts.Quantizer,
		slots:  make(map[model.NodeID]uint32),
		live:   roaring.New(),
		free:   roaring.New(),
		index:  opts.IndexFactory(dimension),
		logger: logger,
	}

	if err := t.rebuild(); err != nil {
		_ = extras.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tier) rebuild() error {
	for slot := uint32(0); slot < t.hdr.Used; slot++ {
		raw, err := t.metaRegion(slot)
		if err != nil {
			return err
		}
		meta := decodeMeta(raw)
		if meta.Flags&flagLive == 0 {
			t.free.Add(slot)
			continue
		}
		if meta.ExtrasLen > 0 && meta.ExtrasOff+uint64(meta.ExtrasLen) > t.hdr.ExtrasSize {
			return fmt.Errorf("%w: slot %d references extras past the sidecar end", ErrCorrupted, slot)
		}
		if prev, dup := t.slots[meta.ID]; dup {
			t.logger.Warn("duplicate live slot, keeping the later one", "id", meta.ID, "slot", prev)
			t.clearLiveLocked(prev)
		}

		q, err := t.vectorLocked(slot)
		if err != nil {
			return err
		}
		if err := t.index.Insert(meta.ID, t.qc.ToFloat(q)); err != nil {
			return err
		}
		t.slots[meta.ID] = slot
		t.live.Add(slot)
	}
	return nil
}

// Path returns the tier file path.
func (t *Tier) Path() string {
	return t.path
}

// Dimension returns the vector dimension.
func (t *Tier) Dimension() int {
	return t.dim
}

// Capacity returns the number of slots in the file.
func (t *Tier) Capacity() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int(t.hdr.Capacity)
}

// Len returns the number of live nodes.
func (t *Tier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

// Contains reports whether id is live in the tier.
func (t *Tier) Contains(id model.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.slots[id]
	return ok
}

// Insert quantizes n into a slot. A node already present keeps its slot;
// otherwise a released slot is reused before a fresh one is taken.
func (t *Tier) Insert(n *model.Node) error {
	if len(n.Vector) != t.dim {
		return &index.ErrDimensionMismatch{Expected: t.dim, Actual: len(n.Vector)}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.m == nil {
		return ErrClosed
	}

	slot, ok := t.slots[n.ID]
	fresh := false
	if !ok {
		switch {
		case !t.free.IsEmpty():
			slot = t.free.Minimum()
		case t.hdr.Used < t.hdr.Capacity:
			slot = t.hdr.Used
			fresh = true
		default:
			return ErrCapacityExhausted
		}
	}

	q := t.qc.FromFloat(n.Vector)
	vec, err := t.vectorRegion(slot)
	if err != nil {
		return err
	}
	q.PutBinary(vec)

	if err := t.writeMetaLocked(slot, n); err != nil {
		return err
	}

	if err := t.index.Insert(n.ID, t.qc.ToFloat(q)); err != nil {
		if !ok {
			if raw, rerr := t.metaRegion(slot); rerr == nil {
				raw[16] &^= flagLive
			}
		}
		return err
	}

	if fresh {
		t.hdr.Used++
	}
	t.free.Remove(slot)
	t.live.Add(slot)
	t.slots[n.ID] = slot
	t.writeHeaderLocked()
	return nil
}

// writeMetaLocked appends n's extras to the sidecar if it has any and writes
// the meta record with the live flag set.
func (t *Tier) writeMetaLocked(slot uint32, n *model.Node) error {
	meta := metaRecord{
		ID:         n.ID,
		Flags:      flagLive,
		Type:       n.Type,
		DecayRate:  n.DecayRate,
		CreatedAt:  n.CreatedAt,
		AccessedAt: n.AccessedAt,
		Confidence: n.Confidence,
	}

	if len(n.Payload) > 0 || len(n.Edges) > 0 || len(n.Tags) > 0 {
		blob, err := codec.AppendExtras(make([]byte, 0, codec.ExtrasSize(n)), n)
		if err != nil {
			return err
		}
		off := t.hdr.ExtrasSize
		if _, err := t.extras.WriteAt(blob, int64(off)); err != nil { //nolint:gosec // bounded by file size
			return fmt.Errorf("failed to append warm extras: %w", err)
		}
		t.hdr.ExtrasSize += uint64(len(blob))
		meta.ExtrasOff = off
		meta.ExtrasLen = uint32(len(blob)) //nolint:gosec // capped by codec limits
		meta.ExtrasCRC = hash.CRC32C(blob)
	}

	raw, err := t.metaRegion(slot)
	if err != nil {
		return err
	}
	meta.encode(raw)
	return nil
}

// Get returns the dequantized node stored under id.
func (t *Tier) Get(id model.NodeID) (*model.Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.m == nil {
		return nil, ErrClosed
	}
	slot, ok := t.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.readNodeLocked(slot)
}

func (t *Tier) readNodeLocked(slot uint32) (*model.Node, error) {
	raw, err := t.metaRegion(slot)
	if err != nil {
		return nil, err
	}
	meta := decodeMeta(raw)

	q, err := t.vectorLocked(slot)
	if err != nil {
		return nil, err
	}

	n := &model.Node{
		ID:         meta.ID,
		Type:       meta.Type,
		Vector:     t.qc.ToFloat(q),
		Confidence: meta.Confidence,
		DecayRate:  meta.DecayRate,
		CreatedAt:  meta.CreatedAt,
		AccessedAt: meta.AccessedAt,
	}

	if meta.ExtrasLen > 0 {
		blob := make([]byte, meta.ExtrasLen)
		if _, err := t.extras.ReadAt(blob, int64(meta.ExtrasOff)); err != nil { //nolint:gosec // validated on open
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: extras for %s cut off", ErrCorrupted, meta.ID)
			}
			return nil, err
		}
		if hash.CRC32C(blob) != meta.ExtrasCRC {
			t.logger.Error("extras checksum mismatch", "id", meta.ID, "slot", slot)
			return nil, fmt.Errorf("%w: extras checksum mismatch for %s", ErrCorrupted, meta.ID)
		}
		if _, err := codec.DecodeExtras(blob, n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
	}
	return n, nil
}

// Meta returns the metadata projection of id without touching the vector or
// the sidecar.
func (t *Tier) Meta(id model.NodeID) (model.NodeMeta, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	slot, ok := t.slots[id]
	if !ok || t.m == nil {
		return model.NodeMeta{}, false
	}
	raw, err := t.metaRegion(slot)
	if err != nil {
		return model.NodeMeta{}, false
	}
	return decodeMeta(raw).project(), true
}

// Range calls fn with the metadata of every live node until fn returns false.
func (t *Tier) Range(fn func(m model.NodeMeta) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.m == nil {
		return
	}
	it := t.live.Iterator()
	for it.HasNext() {
		raw, err := t.metaRegion(it.Next())
		if err != nil {
			return
		}
		if !fn(decodeMeta(raw).project()) {
			return
		}
	}
}

// Remove clears the live flag of id and unindexes it. It reports whether id
// was present. The slot becomes available to later inserts; sidecar space is
// not reclaimed.
func (t *Tier) Remove(id model.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.slots[id]
	if !ok || t.m == nil {
		return false
	}
	t.clearLiveLocked(slot)
	delete(t.slots, id)
	t.index.Remove(id)
	return true
}

func (t *Tier) clearLiveLocked(slot uint32) {
	if raw, err := t.metaRegion(slot); err == nil {
		raw[16] &^= flagLive
	}
	t.live.Remove(slot)
	t.free.Add(slot)
}

// Search returns up to k nearest nodes by approximate cosine similarity.
func (t *Tier) Search(q []float32, k int) ([]index.Result, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.m == nil {
		return nil, ErrClosed
	}
	return t.index.Search(q, k)
}

// Touch sets the access time of id in place. It reports whether id was found.
func (t *Tier) Touch(id model.NodeID, ts int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw, ok := t.liveMetaLocked(id)
	if !ok {
		return false
	}
	putAccessed(raw, ts)
	return true
}

// UpdateConfidence overwrites the confidence state of id in place. It reports
// whether id was found.
func (t *Tier) UpdateConfidence(id model.NodeID, c model.Confidence) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw, ok := t.liveMetaLocked(id)
	if !ok {
		return false
	}
	putConfidence(raw, c)
	return true
}

// Update reads id, applies fn and writes back everything but the vector. It
// reports whether id was found.
func (t *Tier) Update(id model.NodeID, fn func(n *model.Node)) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.slots[id]
	if !ok || t.m == nil {
		return false, nil
	}
	n, err := t.readNodeLocked(slot)
	if err != nil {
		return true, err
	}
	fn(n)
	n.ID = id
	if err := t.writeMetaLocked(slot, n); err != nil {
		return true, err
	}
	t.writeHeaderLocked()
	return true, nil
}

func (t *Tier) liveMetaLocked(id model.NodeID) ([]byte, bool) {
	slot, ok := t.slots[id]
	if !ok || t.m == nil {
		return nil, false
	}
	raw, err := t.metaRegion(slot)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Grow extends the file to capacity slots. The enlarged layout is written
// to a temporary file that replaces the tier file by rename, so a crash
// leaves either the old or the new file. Shrinking is not supported.
func (t *Tier) Grow(capacity int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.m == nil {
		return ErrClosed
	}
	oldCap := int(t.hdr.Capacity)
	if capacity <= oldCap {
		return nil
	}
	if uint64(capacity) > uint64(^uint32(0)) {
		return fmt.Errorf("warm: invalid capacity %d", capacity)
	}

	tmp := t.path + ".grow"
	_ = os.Remove(tmp)
	m, err := mmap.OpenWritable(tmp, fileSize(t.dim, capacity))
	if err != nil {
		return fmt.Errorf("failed to grow warm tier: %w", err)
	}
	abort := func(err error) error {
		_ = m.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to grow warm tier: %w", err)
	}

	src, dst := t.m.Bytes(), m.Bytes()
	oldVec := int(t.hdr.VecOffset) //nolint:gosec // bounded by mapping size
	newVec := headerSize + capacity*metaStride
	metaEnd := headerSize + oldCap*metaStride
	vecLen := oldCap * t.vs

	copy(dst[headerSize:metaEnd], src[headerSize:metaEnd])
	copy(dst[newVec:newVec+vecLen], src[oldVec:oldVec+vecLen])

	hdr := t.hdr
	hdr.Capacity = uint32(capacity) //nolint:gosec // checked above
	hdr.VecOffset = uint64(newVec)  //nolint:gosec // non-negative
	hdr.encode(dst[:headerSize])

	if err := m.Sync(); err != nil {
		return abort(err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return abort(err)
	}
	if err := fs.SyncDir(fs.LocalFS{}, filepath.Dir(t.path)); err != nil {
		t.logger.Warn("failed to sync directory after grow", "error", err)
	}

	if err := t.m.Close(); err != nil {
		t.logger.Warn("failed to release old mapping", "error", err)
	}
	t.m = m
	t.hdr = hdr
	t.logger.Info("warm tier grown", "from", oldCap, "to", capacity)
	return nil
}

// Flush msyncs the mapping and fsyncs the sidecar.
func (t *Tier) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.m == nil {
		return ErrClosed
	}
	if err := t.extras.Sync(); err != nil {
		return err
	}
	return t.m.Sync()
}

// Close flushes and releases the mapping and the sidecar. It is idempotent.
func (t *Tier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.m == nil {
		return nil
	}

	var errs []error
	if err := t.extras.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := t.extras.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := t.m.Close(); err != nil {
		errs = append(errs, err)
	}
	t.m = nil
	t.extras = nil
	return errors.Join(errs...)
}

func (t *Tier) writeHeaderLocked() {
	r, err := t.m.Region(0, headerSize)
	if err != nil {
		return
	}
	t.hdr.encode(r.Bytes())
}

// metaRegion and vectorRegion return slot memory. The slices are only used
// while t.mu is held, which also guards every remap.
func (t *Tier) metaRegion(slot uint32) ([]byte, error) {
	r, err := t.m.Region(headerSize+int(slot)*metaStride, metaStride)
	if err != nil {
		return nil, fmt.Errorf("%w: meta slot %d: %v", ErrCorrupted, slot, err)
	}
	return r.Bytes(), nil
}

func (t *Tier) vectorRegion(slot uint32) ([]byte, error) {
	r, err := t.m.Region(int(t.hdr.VecOffset)+int(slot)*t.vs, quantization.EncodedSize(t.dim)) //nolint:gosec // bounded by mapping size
	if err != nil {
		return nil, fmt.Errorf("%w: vector slot %d: %v", ErrCorrupted, slot, err)
	}
	return r.Bytes(), nil
}

func (t *Tier) vectorLocked(slot uint32) (quantization.QuantizedVector, error) {
	raw, err := t.vectorRegion(slot)
	if err != nil {
		return quantization.QuantizedVector{}, err
	}
	return quantization.Decode(raw, t.dim)
}

func (m metaRecord) project() model.NodeMeta {
	return model.NodeMeta{
		ID:         m.ID,
		Type:       m.Type,
		Tier:       model.TierWarm,
		CreatedAt:  m.CreatedAt,
		AccessedAt: m.AccessedAt,
		Confidence: m.Confidence,
		DecayRate:  m.DecayRate,
	}
}
