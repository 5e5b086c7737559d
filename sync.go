package vecmem

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/vecmem/wal"
)

// Sync makes the current state durable and compacts the WAL.
//
// On the tier owner it absorbs every pending WAL entry, writes the hot
// snapshot, flushes the warm tier, saves the cold tier and then truncates
// the WAL, all under the WAL's exclusive lock. A damaged WAL is absorbed up
// to the damage and the unreadable rest is dropped. A follower only applies
// pending entries and fsyncs its WAL handle; when the owner checkpointed
// entries the follower never read, it reloads the hot snapshot first.
func (s *Store) Sync() error {
	return s.sync(context.Background())
}

func (s *Store) sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	start := time.Now()
	absorbed, watermark, err := s.syncLocked(ctx)
	s.metrics.RecordSync(time.Since(start), absorbed, err)
	if s.warm != nil {
		s.logger.LogSnapshot(s.snapshotPath(), watermark, err)
	}
	return err
}

func (s *Store) syncLocked(ctx context.Context) (int, uint64, error) {
	if s.warm == nil {
		n, err := s.syncFromWALLocked()
		if err != nil {
			return n, 0, err
		}
		return n, 0, s.wal.Flush()
	}

	var (
		absorbed  int
		watermark uint64
	)
	err := s.wal.Checkpoint(func(e wal.Entry) error {
		absorbed++
		return s.applyLocked(e)
	}, func(wm uint64) error {
		watermark = wm
		if err := s.hot.Save(s.snapshotPath(), wm); err != nil {
			return err
		}
		if err := s.warm.Flush(); err != nil {
			return fmt.Errorf("failed to flush warm tier: %w", err)
		}
		return s.cold.Save(ctx)
	})
	if err != nil {
		return absorbed, 0, err
	}

	s.checkpointedLocked(watermark)
	s.dropShadowedLocked()
	return absorbed, watermark, nil
}

// Run syncs and manages tiers every run interval until ctx is done. It
// returns ctx.Err().
func (s *Store) Run(ctx context.Context) error {
	interval := s.opts.runInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.manageTiers(ctx); err != nil {
				s.logger.Warn("tier management failed", "error", err)
			}
			if err := s.sync(ctx); err != nil {
				s.logger.Warn("periodic sync failed", "error", err)
			}
		}
	}
}
