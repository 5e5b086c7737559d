package vecmem

import (
	"log/slog"
	"time"

	"github.com/hupe1980/vecmem/blobstore"
	"github.com/hupe1980/vecmem/index"
	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/quantization"
	"github.com/hupe1980/vecmem/tier/cold"
	"github.com/hupe1980/vecmem/wal"
)

// DurabilityPolicy decides what a mutation does when its WAL append fails.
type DurabilityPolicy int

const (
	// BestEffort logs the failure and applies the mutation in memory only.
	BestEffort DurabilityPolicy = iota
	// Strict returns the append error and leaves the store unchanged.
	Strict
)

func (p DurabilityPolicy) String() string {
	switch p {
	case BestEffort:
		return "best-effort"
	case Strict:
		return "strict"
	default:
		return "unknown"
	}
}

// TierPolicy holds the thresholds used by ManageTiers.
type TierPolicy struct {
	// HotCapacity is the node count above which tier management runs.
	HotCapacity int
	// DemoteValue is the value score below which a hot node may be demoted.
	DemoteValue float64
	// WarmAfter is the access age a hot node must exceed to be demoted.
	WarmAfter time.Duration
	// ColdConfidence is the confidence mean below which an old warm node is archived.
	ColdConfidence float32
	// ColdAfter is the access age that, with low confidence, archives a warm node.
	ColdAfter time.Duration
	// ColdForceAfter archives a warm node regardless of confidence.
	ColdForceAfter time.Duration
}

// DefaultTierPolicy returns the default thresholds.
var DefaultTierPolicy = TierPolicy{
	HotCapacity:    10_000,
	DemoteValue:    0.3,
	WarmAfter:      7 * 24 * time.Hour,
	ColdConfidence: 0.2,
	ColdAfter:      30 * 24 * time.Hour,
	ColdForceAfter: 90 * 24 * time.Hour,
}

// Reembedder produces a fresh vector for a node whose vector was dropped
// when it was archived to the cold tier.
type Reembedder interface {
	Reembed(n *model.Node) ([]float32, error)
}

// ReembedderFunc adapts a function to Reembedder.
type ReembedderFunc func(n *model.Node) ([]float32, error)

// Reembed implements Reembedder.
func (f ReembedderFunc) Reembed(n *model.Node) ([]float32, error) { return f(n) }

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	policy           TierPolicy
	warmCapacity     int
	durability       DurabilityPolicy
	walOptions       []func(*wal.Options)
	indexFactory     index.Factory
	quantizer        quantization.Codec
	coldStore        blobstore.Store
	coldCompression  cold.Compression
	reembedder       Reembedder
	syncInterval     time.Duration
	runInterval      time.Duration
	clock            func() time.Time
}

// Option configures Open.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vecmem.BasicMetricsCollector{}
//	s, _ := vecmem.Open(dir, 384, vecmem.WithMetricsCollector(metrics))
//	// ... use s ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithHotCapacity sets the hot node count above which tier management runs.
func WithHotCapacity(n int) Option {
	return func(o *options) {
		o.policy.HotCapacity = n
	}
}

// WithWarmCapacity sets the slot count of a newly created warm tier file. An
// existing smaller file is grown to it on open.
func WithWarmCapacity(n int) Option {
	return func(o *options) {
		o.warmCapacity = n
	}
}

// WithTierPolicy replaces all tier management thresholds.
func WithTierPolicy(p TierPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithDurabilityPolicy selects the behaviour on WAL append failure.
func WithDurabilityPolicy(p DurabilityPolicy) Option {
	return func(o *options) {
		o.durability = p
	}
}

// WithWALOptions passes options through to the WAL.
//
// Example:
//
//	vecmem.Open(dir, 384, vecmem.WithWALOptions(func(o *wal.Options) {
//	    o.DurabilityMode = wal.DurabilityAsync
//	}))
func WithWALOptions(optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walOptions = append(o.walOptions, optFns...)
	}
}

// WithQuantizer sets the int8 codec used by the warm tier and by quantized
// WAL entries. Defaults to quantization.Int8.
func WithQuantizer(c quantization.Codec) Option {
	return func(o *options) {
		o.quantizer = c
	}
}

// WithQuantizedWAL logs full nodes with int8 vectors instead of float32.
func WithQuantizedWAL() Option {
	return WithWALOptions(func(o *wal.Options) {
		o.NodeFormat = wal.FormatInt8
	})
}

// WithIndexFactory sets the ANN index used by the hot and warm tiers.
func WithIndexFactory(f index.Factory) Option {
	return func(o *options) {
		o.indexFactory = f
	}
}

// WithColdStore keeps the cold tier in store instead of the store directory.
func WithColdStore(store blobstore.Store) Option {
	return func(o *options) {
		o.coldStore = store
	}
}

// WithColdCompression sets the compression used when saving the cold tier.
func WithColdCompression(c cold.Compression) Option {
	return func(o *options) {
		o.coldCompression = c
	}
}

// WithReembedder lets Get bring cold nodes back by computing a new vector.
func WithReembedder(r Reembedder) Option {
	return func(o *options) {
		o.reembedder = r
	}
}

// WithSyncInterval bounds how often reads pull other processes' WAL entries.
// Zero disables read-path syncing.
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) {
		o.syncInterval = d
	}
}

// WithRunInterval sets the period of the Run loop.
func WithRunInterval(d time.Duration) Option {
	return func(o *options) {
		o.runInterval = d
	}
}

// WithClock overrides the time source used for access times and ages.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		policy:           DefaultTierPolicy,
		warmCapacity:     100_000,
		quantizer:        quantization.Int8{},
		coldCompression:  cold.CompressionZstd,
		syncInterval:     time.Second,
		runInterval:      30 * time.Second,
		clock:            time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
