package vecmem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/vecmem/blobstore"
	"github.com/hupe1980/vecmem/internal/flock"
	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/tier/cold"
	"github.com/hupe1980/vecmem/tier/hot"
	"github.com/hupe1980/vecmem/tier/warm"
	"github.com/hupe1980/vecmem/wal"
)

// File names inside the store directory.
const (
	WALFile      = "wal.log"
	SnapshotFile = "hot.snap"
	WarmFile     = "warm.dat"
	OwnerFile    = "tiers.lock"
)

// Store is the tiered node store. It is safe for concurrent use.
//
// Several processes may open the same directory. They share the WAL and the
// hot snapshot; the first one to open becomes the tier owner and is the only
// one that opens the warm and cold tiers, moves nodes between tiers and
// truncates the WAL.
type Store struct {
	mu        sync.RWMutex
	dir       string
	dimension int
	opts      options
	logger    *Logger
	metrics   MetricsCollector

	wal   *wal.WAL
	hot   *hot.Tier
	warm  *warm.Tier // nil for followers
	cold  *cold.Tier // nil for followers
	owner *flock.File

	// seen is the highest sequence read back from the WAL or covered by
	// the loaded snapshot.
	seen uint64
	// own holds entries this handle appended and applied but has not read
	// back from the WAL yet, by sequence.
	own map[uint64]wal.Entry

	syncLimiter *rate.Limiter
	closed      bool
}

// Open opens or creates the store in dir for vectors of the given dimension.
func Open(dir string, dimension int, optFns ...Option) (*Store, error) {
	if dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: dimension}
	}
	opts := applyOptions(optFns)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &Store{
		dir:       dir,
		dimension: dimension,
		opts:      opts,
		logger:    opts.logger.WithComponent("store"),
		metrics:   opts.metricsCollector,
		own:       make(map[uint64]wal.Entry),
	}
	if opts.syncInterval > 0 {
		s.syncLimiter = rate.NewLimiter(rate.Every(opts.syncInterval), 1)
	}

	owner, err := acquireOwnership(filepath.Join(dir, OwnerFile))
	if err != nil {
		return nil, err
	}
	s.owner = owner

	watermark, err := s.openTiers()
	if err != nil {
		_ = s.closeAll()
		return nil, err
	}

	s.seen = watermark
	if s.owner != nil {
		s.dropShadowedLocked()
	}

	replayed := 0
	err = s.wal.ReplayDeltas(watermark, func(e wal.Entry) error {
		replayed++
		return s.applyLocked(e)
	})
	if err != nil {
		if !errors.Is(err, wal.ErrCorrupted) {
			s.logger.LogRecovery(replayed, err)
			_ = s.closeAll()
			return nil, fmt.Errorf("failed to replay WAL: %w", err)
		}
		// Everything before the corruption was applied.
		s.logger.LogRecovery(replayed, err)
	} else {
		s.logger.LogRecovery(replayed, nil)
	}

	s.logger.Info("store opened",
		"dir", dir,
		"dimension", dimension,
		"owner", s.owner != nil,
		"hot", s.hot.Len(),
		"watermark", watermark,
	)
	return s, nil
}

// acquireOwnership returns the locked owner file, or nil if another process
// already owns the tiers.
func acquireOwnership(path string) (*flock.File, error) {
	f, err := flock.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open owner lock: %w", err)
	}
	if err := f.TryLock(); err != nil {
		_ = f.Close()
		if errors.Is(err, flock.ErrWouldBlock) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock owner file: %w", err)
	}
	return f, nil
}

// openTiers opens the WAL and every tier in parallel and returns the
// watermark of the hot snapshot.
func (s *Store) openTiers() (uint64, error) {
	var (
		g         errgroup.Group
		watermark uint64
		mu        sync.Mutex
	)
	slogger := s.opts.logger.Logger

	g.Go(func() error {
		w, err := wal.Open(filepath.Join(s.dir, WALFile), append([]func(*wal.Options){
			func(o *wal.Options) {
				o.Logger = slogger
				o.Quantizer = s.opts.quantizer
			},
		}, s.opts.walOptions...)...)
		if err != nil {
			return err
		}
		mu.Lock()
		s.wal = w
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		h := hot.New(s.dimension, func(o *hot.Options) {
			o.IndexFactory = s.opts.indexFactory
			o.Logger = slogger
		})
		wm, err := h.Load(s.snapshotPath())
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load hot snapshot: %w", translateError(err))
		}
		mu.Lock()
		s.hot = h
		watermark = wm
		mu.Unlock()
		return nil
	})

	if s.owner != nil {
		g.Go(func() error {
			w, err := s.openWarm(slogger)
			if err != nil {
				return err
			}
			mu.Lock()
			s.warm = w
			mu.Unlock()
			return nil
		})

		g.Go(func() error {
			store := s.opts.coldStore
			if store == nil {
				store = blobstore.NewLocalStore(s.dir)
			}
			c, err := cold.Open(context.Background(), func(o *cold.Options) {
				o.Store = store
				o.Compression = s.opts.coldCompression
				o.Logger = slogger
			})
			if err != nil {
				return fmt.Errorf("failed to open cold tier: %w", err)
			}
			mu.Lock()
			s.cold = c
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return watermark, nil
}

func (s *Store) openWarm(logger *slog.Logger) (*warm.Tier, error) {
	path := filepath.Join(s.dir, WarmFile)
	optFn := func(o *warm.Options) {
		o.IndexFactory = s.opts.indexFactory
		o.Quantizer = s.opts.quantizer
		o.Logger = logger
	}

	t, err := warm.Open(path, s.dimension, optFn)
	if errors.Is(err, os.ErrNotExist) {
		t, err = warm.Create(path, s.dimension, s.opts.warmCapacity, optFn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open warm tier: %w", translateError(err))
	}

	if t.Capacity() < s.opts.warmCapacity {
		if err := t.Grow(s.opts.warmCapacity); err != nil {
			_ = t.Close()
			return nil, err
		}
	}
	return t, nil
}

// dropShadowedLocked removes warm and cold copies of nodes that the hot tier
// holds. They are left behind by promotions and by demotions that happened
// after the last snapshot.
func (s *Store) dropShadowedLocked() {
	if s.warm == nil {
		return
	}
	dropped := 0
	s.hot.Range(func(n *model.Node) bool {
		if s.warm.Remove(n.ID) {
			dropped++
		}
		if s.cold.Remove(n.ID) {
			dropped++
		}
		return true
	})
	if dropped > 0 {
		s.logger.Debug("dropped shadowed tier copies", "count", dropped)
	}
}

func (s *Store) snapshotPath() string {
	return filepath.Join(s.dir, SnapshotFile)
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Dimension returns the vector dimension.
func (s *Store) Dimension() int {
	return s.dimension
}

// IsOwner reports whether this store manages the warm and cold tiers.
func (s *Store) IsOwner() bool {
	return s.owner != nil
}

// HotLen returns the number of hot nodes.
func (s *Store) HotLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hot.Len()
}

// WarmLen returns the number of warm nodes. It is zero for followers.
func (s *Store) WarmLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.warm == nil {
		return 0
	}
	return s.warm.Len()
}

// ColdLen returns the number of cold nodes. It is zero for followers.
func (s *Store) ColdLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cold == nil {
		return 0
	}
	return s.cold.Len()
}

// Stats describes the store at one point in time.
type Stats struct {
	Dimension    int
	Owner        bool
	Hot          int
	HotCapacity  int
	Warm         int
	WarmCapacity int
	Cold         int
	LastSeq      uint64
	WALBytes     int64
}

// Stats returns a snapshot of tier sizes and WAL state.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}, ErrClosed
	}

	st := Stats{
		Dimension:   s.dimension,
		Owner:       s.owner != nil,
		Hot:         s.hot.Len(),
		HotCapacity: s.opts.policy.HotCapacity,
		LastSeq:     s.wal.LastSeq(),
	}
	if s.warm != nil {
		st.Warm = s.warm.Len()
		st.WarmCapacity = s.warm.Capacity()
	}
	if s.cold != nil {
		st.Cold = s.cold.Len()
	}

	size, err := s.wal.Size()
	if err != nil {
		return st, err
	}
	st.WALBytes = size
	return st, nil
}
