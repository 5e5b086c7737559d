package vecmem

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecmem/model"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; a
// Prometheus implementation lives in metrics/prometheus.
type MetricsCollector interface {
	// RecordInsert is called after each insert.
	RecordInsert(duration time.Duration, err error)

	// RecordGet is called after each Get. tier is where the node was found,
	// or the last tier consulted on a miss.
	RecordGet(tier model.StorageTier, hit bool, duration time.Duration)

	// RecordSearch is called after each search.
	RecordSearch(k, results int, duration time.Duration, err error)

	// RecordDelete is called after each delete.
	RecordDelete(duration time.Duration, err error)

	// RecordWALAppend is called after every WAL append, full node or delta.
	RecordWALAppend(duration time.Duration, err error)

	// RecordDemotion is called once per tier management step that moved nodes.
	RecordDemotion(from, to model.StorageTier, count int)

	// RecordPromotion is called for every node copied into the hot tier.
	RecordPromotion(from model.StorageTier)

	// RecordSync is called after each snapshot and WAL checkpoint.
	RecordSync(duration time.Duration, absorbed int, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)                        {}
func (NoopMetricsCollector) RecordGet(model.StorageTier, bool, time.Duration)         {}
func (NoopMetricsCollector) RecordSearch(int, int, time.Duration, error)              {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)                        {}
func (NoopMetricsCollector) RecordWALAppend(time.Duration, error)                     {}
func (NoopMetricsCollector) RecordDemotion(model.StorageTier, model.StorageTier, int) {}
func (NoopMetricsCollector) RecordPromotion(model.StorageTier)                        {}
func (NoopMetricsCollector) RecordSync(time.Duration, int, error)                     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	GetHits          [3]atomic.Int64 // indexed by model.StorageTier
	GetMisses        atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	WALAppends       atomic.Int64
	WALErrors        atomic.Int64
	DemotedToWarm    atomic.Int64
	DemotedToCold    atomic.Int64
	Promotions       atomic.Int64
	SyncCount        atomic.Int64
	SyncErrors       atomic.Int64
	SyncAbsorbed     atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(tier model.StorageTier, hit bool, _ time.Duration) {
	if !hit {
		b.GetMisses.Add(1)
		return
	}
	if int(tier) < len(b.GetHits) {
		b.GetHits[tier].Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_, _ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordWALAppend implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWALAppend(_ time.Duration, err error) {
	b.WALAppends.Add(1)
	if err != nil {
		b.WALErrors.Add(1)
	}
}

// RecordDemotion implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDemotion(_, to model.StorageTier, count int) {
	switch to {
	case model.TierWarm:
		b.DemotedToWarm.Add(int64(count))
	case model.TierCold:
		b.DemotedToCold.Add(int64(count))
	}
}

// RecordPromotion implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPromotion(model.StorageTier) {
	b.Promotions.Add(1)
}

// RecordSync implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSync(_ time.Duration, absorbed int, err error) {
	b.SyncCount.Add(1)
	b.SyncAbsorbed.Add(int64(absorbed))
	if err != nil {
		b.SyncErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:    b.InsertCount.Load(),
		InsertErrors:   b.InsertErrors.Load(),
		InsertAvgNanos: avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		HotHits:        b.GetHits[model.TierHot].Load(),
		WarmHits:       b.GetHits[model.TierWarm].Load(),
		ColdHits:       b.GetHits[model.TierCold].Load(),
		GetMisses:      b.GetMisses.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchAvgNanos: avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		WALAppends:     b.WALAppends.Load(),
		WALErrors:      b.WALErrors.Load(),
		DemotedToWarm:  b.DemotedToWarm.Load(),
		DemotedToCold:  b.DemotedToCold.Load(),
		Promotions:     b.Promotions.Load(),
		SyncCount:      b.SyncCount.Load(),
		SyncErrors:     b.SyncErrors.Load(),
		SyncAbsorbed:   b.SyncAbsorbed.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount    int64
	InsertErrors   int64
	InsertAvgNanos int64
	HotHits        int64
	WarmHits       int64
	ColdHits       int64
	GetMisses      int64
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	DeleteCount    int64
	DeleteErrors   int64
	WALAppends     int64
	WALErrors      int64
	DemotedToWarm  int64
	DemotedToCold  int64
	Promotions     int64
	SyncCount      int64
	SyncErrors     int64
	SyncAbsorbed   int64
}
