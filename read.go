package vecmem

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/vecmem/index"
	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/tier/warm"
	"github.com/hupe1980/vecmem/wal"
)

// Get returns a copy of the node stored under id and marks it as accessed.
//
// A hot node is touched in place. A warm node is promoted into the hot tier.
// A cold node is brought back only when a Reembedder is configured;
// otherwise Get reports ErrNotFound for it.
func (s *Store) Get(id model.NodeID) (*model.Node, error) {
	s.maybeSync()

	start := time.Now()
	n, tier, err := s.get(id)
	s.metrics.RecordGet(tier, err == nil, time.Since(start))
	return n, err
}

func (s *Store) get(id model.NodeID) (*model.Node, model.StorageTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, model.TierHot, ErrClosed
	}
	now := s.nowMillis()

	if n, ok := s.hot.Get(id); ok {
		if err := s.touchAppendLocked(id, now); err != nil {
			return nil, model.TierHot, err
		}
		s.touchLocked(id, now)
		n.AccessedAt = max(n.AccessedAt, now)
		return n, model.TierHot, nil
	}

	if s.warm != nil {
		n, err := s.warm.Get(id)
		switch {
		case err == nil:
			n.AccessedAt = max(n.AccessedAt, now)
			if err := s.touchAppendLocked(id, now); err != nil {
				return nil, model.TierWarm, err
			}
			if err := s.hot.Insert(n.Clone()); err != nil {
				return nil, model.TierWarm, translateError(err)
			}
			s.touchLocked(id, now)
			s.metrics.RecordPromotion(model.TierWarm)
			s.logger.LogPromotion(id, model.TierWarm)
			return n, model.TierWarm, nil
		case !errors.Is(err, warm.ErrNotFound):
			return nil, model.TierWarm, translateError(err)
		}
	}

	if s.cold != nil {
		r, ok := s.cold.Get(id)
		if ok {
			if s.opts.reembedder == nil {
				return nil, model.TierCold, fmt.Errorf("%w: %s is archived without a vector", ErrNotFound, id)
			}
			vec, err := s.opts.reembedder.Reembed(r.Node())
			if err != nil {
				return nil, model.TierCold, fmt.Errorf("failed to re-embed cold node: %w", err)
			}
			n, err := s.rehydrateLocked(id, vec)
			return n, model.TierCold, err
		}
		return nil, model.TierCold, ErrNotFound
	}
	return nil, model.TierHot, ErrNotFound
}

// Rehydrate brings a cold node back into the hot tier with the given vector.
func (s *Store) Rehydrate(id model.NodeID, vector []float32) (*model.Node, error) {
	if len(vector) != s.dimension {
		return nil, &ErrDimensionMismatch{Expected: s.dimension, Actual: len(vector)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	return s.rehydrateLocked(id, vector)
}

func (s *Store) rehydrateLocked(id model.NodeID, vector []float32) (*model.Node, error) {
	if s.cold == nil {
		return nil, ErrNotFound
	}
	r, ok := s.cold.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if len(vector) != s.dimension {
		return nil, &ErrDimensionMismatch{Expected: s.dimension, Actual: len(vector)}
	}

	n := r.Node()
	n.Vector = vector
	n.AccessedAt = max(n.AccessedAt, s.nowMillis())

	// The cold copy has no vector, so the full node goes to the log.
	if err := s.appendLocked(wal.Entry{Op: wal.OpUpdate, ID: id, Node: n}); err != nil {
		return nil, err
	}
	if err := s.hot.Insert(n.Clone()); err != nil {
		return nil, translateError(err)
	}
	s.metrics.RecordPromotion(model.TierCold)
	s.logger.LogPromotion(id, model.TierCold)
	return n, nil
}

// Contains reports whether id is stored in any tier.
func (s *Store) Contains(id model.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && s.containsLocked(id)
}

// Tier returns the hottest tier holding id.
func (s *Store) Tier(id model.NodeID) (model.StorageTier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.closed:
		return 0, false
	case s.hot.Contains(id):
		return model.TierHot, true
	case s.warm != nil && s.warm.Contains(id):
		return model.TierWarm, true
	case s.cold != nil && s.cold.Contains(id):
		return model.TierCold, true
	default:
		return 0, false
	}
}

// Search returns up to k nodes by descending cosine similarity to query. The
// warm tier is consulted only when the hot tier returns fewer than k results.
// Cold nodes are never returned.
func (s *Store) Search(query []float32, k int) ([]index.Result, error) {
	s.maybeSync()

	start := time.Now()
	res, err := s.search(query, k)
	s.metrics.RecordSearch(k, len(res), time.Since(start), err)
	s.logger.LogSearch(k, len(res), err)
	return res, err
}

func (s *Store) search(query []float32, k int) ([]index.Result, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(query) != s.dimension {
		return nil, &ErrDimensionMismatch{Expected: s.dimension, Actual: len(query)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	hotRes, err := s.hot.Search(query, k)
	if err != nil {
		return nil, translateError(err)
	}
	if len(hotRes) >= k || s.warm == nil {
		return hotRes, nil
	}

	warmRes, err := s.warm.Search(query, k)
	if err != nil {
		return nil, translateError(err)
	}
	return index.Merge(k, hotRes, warmRes), nil
}

// ColdCandidates returns up to n cold nodes with the most recent access
// time, newest first. Callers use them to decide what to re-embed.
func (s *Store) ColdCandidates(n int) []model.NodeMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.cold == nil {
		return nil
	}
	return s.cold.CandidatesForPromotion(n)
}
