package vecmem

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/tier/cold"
	"github.com/hupe1980/vecmem/wal"
)

// applyLocked applies one entry read back from the WAL. Entries at or below
// the seen sequence are skipped, so replaying a log any number of times
// converges to the same state. Entries this handle appended itself were
// applied when they were written; a foreign entry ordered before some of
// them is applied and then those entries are applied again on top, which
// keeps every node in sequence order.
func (s *Store) applyLocked(e wal.Entry) error {
	if e.Op == wal.OpCheckpoint {
		return s.absorbCheckpointLocked(e)
	}
	if e.Seq <= s.seen {
		return nil
	}
	s.seen = e.Seq

	if _, ok := s.own[e.Seq]; ok {
		delete(s.own, e.Seq)
		return nil
	}
	s.applyEntryLocked(e)
	s.reapplyOwnLocked(e.ID, e.Seq)
	return nil
}

func (s *Store) applyEntryLocked(e wal.Entry) {
	switch {
	case e.Op == wal.OpDelete:
		s.removeLocked(e.ID)
	case e.Format.IsFullNode():
		if err := s.hot.Insert(e.Node.Clone()); err != nil {
			// A foreign process with another dimension; nothing to apply.
			s.logger.Warn("skipping WAL entry", "seq", e.Seq, "id", e.ID.String(), "error", err)
			return
		}
		s.dropColderLocked(e.ID)
	case e.Format == wal.FormatTouch:
		s.touchLocked(e.ID, e.AccessedAt)
	case e.Format == wal.FormatConfidence:
		s.setConfidenceLocked(e.ID, e.Confidence)
	case e.Format == wal.FormatEdge:
		if err := s.addEdgeLocked(e.ID, e.Edge); err != nil {
			s.logger.Error("failed to apply edge", "seq", e.Seq, "id", e.ID.String(), "error", err)
		}
	}
}

// reapplyOwnLocked applies this handle's pending entries for id that are
// newer than seq again.
func (s *Store) reapplyOwnLocked(id model.NodeID, seq uint64) {
	if len(s.own) == 0 {
		return
	}
	var later []wal.Entry
	for _, e := range s.own {
		if e.ID == id && e.Seq > seq {
			later = append(later, e)
		}
	}
	slices.SortFunc(later, func(a, b wal.Entry) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	for _, e := range later {
		s.applyEntryLocked(e)
	}
}

// absorbCheckpointLocked handles a checkpoint another handle wrote. If it
// absorbed entries this handle never read, or the sequence went backwards
// after discarding a damaged log, the hot tier is reloaded from the snapshot
// and reading continues after its watermark.
func (s *Store) absorbCheckpointLocked(e wal.Entry) error {
	if e.Watermark <= s.seen && e.Seq > s.seen {
		return nil
	}
	if s.warm != nil {
		// Only the owner checkpoints.
		s.logger.Warn("unexpected foreign WAL checkpoint", "watermark", e.Watermark, "seen", s.seen)
		s.seen = e.Watermark
		return nil
	}

	wm, err := s.hot.Load(s.snapshotPath())
	if err != nil {
		return fmt.Errorf("failed to reload hot snapshot: %w", translateError(err))
	}
	s.logger.Info("reloaded hot snapshot after checkpoint",
		"watermark", wm,
		"previous", s.seen,
		"pending", len(s.own),
	)
	s.seen = wm
	// The snapshot holds what was absorbed; the rest is read back from the
	// log after the checkpoint.
	clear(s.own)
	return nil
}

// SyncFromWAL applies entries other processes appended since the last sync
// and returns how many entries were read.
func (s *Store) SyncFromWAL() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	return s.syncFromWALLocked()
}

func (s *Store) syncFromWALLocked() (int, error) {
	read := 0
	err := s.wal.SyncDeltas(func(e wal.Entry) error {
		if e.Op != wal.OpCheckpoint {
			read++
		}
		return s.applyLocked(e)
	})
	if err != nil {
		if errors.Is(err, wal.ErrCorrupted) {
			s.logger.Error("WAL sync stopped at corruption", "applied", read, "error", err)
		}
		return read, err
	}
	return read, nil
}

// maybeSync runs a WAL sync at most once per sync interval.
func (s *Store) maybeSync() {
	if s.syncLimiter == nil || !s.syncLimiter.Allow() {
		return
	}
	if _, err := s.SyncFromWAL(); err != nil && !errors.Is(err, ErrClosed) {
		s.logger.Warn("read-path WAL sync failed", "error", err)
	}
}

// checkpointedLocked records that the owner absorbed everything up to
// watermark into the snapshot.
func (s *Store) checkpointedLocked(watermark uint64) {
	s.seen = max(s.seen, watermark)
	clear(s.own)
}

// removeLocked deletes id from every tier and reports whether it was found.
func (s *Store) removeLocked(id model.NodeID) bool {
	_, found := s.hot.Remove(id)
	if s.dropColderLocked(id) {
		found = true
	}
	return found
}

// dropColderLocked removes the warm and cold copies of id.
func (s *Store) dropColderLocked(id model.NodeID) bool {
	found := false
	if s.warm != nil && s.warm.Remove(id) {
		found = true
	}
	if s.cold != nil && s.cold.Remove(id) {
		found = true
	}
	return found
}

// The delta helpers update every tier holding id; a promoted node may still
// have its warm or cold copy until the next snapshot.

func (s *Store) touchLocked(id model.NodeID, ts int64) bool {
	found := s.hot.Update(id, func(n *model.Node) {
		if ts > n.AccessedAt {
			n.AccessedAt = ts
		}
	})
	if s.warm != nil {
		if m, ok := s.warm.Meta(id); ok {
			found = true
			if ts > m.AccessedAt {
				s.warm.Touch(id, ts)
			}
		}
	}
	if s.cold != nil && s.cold.Update(id, func(r *cold.Record) {
		if ts > r.Meta.AccessedAt {
			r.Meta.AccessedAt = ts
		}
	}) {
		found = true
	}
	return found
}

func (s *Store) setConfidenceLocked(id model.NodeID, c model.Confidence) bool {
	found := s.hot.Update(id, func(n *model.Node) {
		n.Confidence = c
	})
	if s.warm != nil && s.warm.UpdateConfidence(id, c) {
		found = true
	}
	if s.cold != nil && s.cold.Update(id, func(r *cold.Record) {
		r.Meta.Confidence = c
	}) {
		found = true
	}
	return found
}

func (s *Store) addEdgeLocked(from model.NodeID, e model.Edge) error {
	s.hot.Update(from, func(n *model.Node) {
		n.UpsertEdge(e)
	})
	if s.warm != nil {
		if _, err := s.warm.Update(from, func(n *model.Node) {
			n.UpsertEdge(e)
		}); err != nil {
			return translateError(err)
		}
	}
	if s.cold != nil {
		s.cold.Update(from, func(r *cold.Record) {
			n := model.Node{Edges: r.Edges}
			n.UpsertEdge(e)
			r.Edges = n.Edges
		})
	}
	return nil
}
