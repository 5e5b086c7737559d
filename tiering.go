package vecmem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/tier/warm"
)

const (
	confidenceWeight = 0.4
	recencyWeight    = 0.6
	// recencyDecay gives recency a half-life of about three days.
	recencyDecay = 0.23
)

// ValueScore rates how worth keeping hot a node is:
// mu*0.4 + exp(-0.23*ageDays)*0.6, where ageDays is measured from the last
// access.
func ValueScore(c model.Confidence, accessedAt int64, now time.Time) float64 {
	ageDays := ageOf(accessedAt, now).Hours() / 24
	return float64(c.Mu)*confidenceWeight + math.Exp(-recencyDecay*ageDays)*recencyWeight
}

func ageOf(accessedAt int64, now time.Time) time.Duration {
	age := now.Sub(time.UnixMilli(accessedAt))
	if age < 0 {
		return 0
	}
	return age
}

// ManageTiers moves nodes to colder tiers. It does nothing unless the hot tier
// holds more than its capacity, or on a follower.
//
// Warm nodes with low confidence and a moderate age, or a very old age, are
// archived to the cold tier first. Then hot nodes whose value score is below
// the demotion threshold and whose access age exceeds WarmAfter are copied
// into the warm tier, lowest value first, until the hot tier is back within
// capacity. A node is removed from its source tier only after the target
// tier holds it durably; a full warm tier leaves the remaining candidates
// hot.
func (s *Store) ManageTiers() error {
	return s.manageTiers(context.Background())
}

func (s *Store) manageTiers(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.warm == nil || s.hot.Len() <= s.opts.policy.HotCapacity {
		return nil
	}

	now := s.opts.clock()
	archiveErr := s.archiveWarmLocked(ctx, now)
	demoteErr := s.demoteHotLocked(now)
	return errors.Join(archiveErr, demoteErr)
}

type demotionCandidate struct {
	id    model.NodeID
	value float64
}

func (s *Store) demoteHotLocked(now time.Time) error {
	p := s.opts.policy

	var candidates []demotionCandidate
	s.hot.Range(func(n *model.Node) bool {
		if ageOf(n.AccessedAt, now) <= p.WarmAfter {
			return true
		}
		if v := ValueScore(n.Confidence, n.AccessedAt, now); v < p.DemoteValue {
			candidates = append(candidates, demotionCandidate{id: n.ID, value: v})
		}
		return true
	})
	if len(candidates) == 0 {
		return nil
	}
	slices.SortFunc(candidates, func(a, b demotionCandidate) int {
		if a.value != b.value {
			if a.value < b.value {
				return -1
			}
			return 1
		}
		return a.id.Compare(b.id)
	})

	excess := s.hot.Len() - p.HotCapacity
	var (
		copied  []model.NodeID
		copyErr error
	)
	for _, c := range candidates {
		if len(copied) >= excess {
			break
		}
		n, ok := s.hot.Get(c.id)
		if !ok {
			continue
		}
		if err := s.warm.Insert(n); err != nil {
			if errors.Is(err, warm.ErrCapacityExhausted) {
				s.logger.WithTier(model.TierWarm).Warn("tier full, keeping nodes hot",
					"pending", len(candidates)-len(copied),
					"capacity", s.warm.Capacity(),
				)
			}
			copyErr = fmt.Errorf("failed to demote %s: %w", c.id, err)
			break
		}
		copied = append(copied, c.id)
	}

	if len(copied) > 0 {
		if err := s.warm.Flush(); err != nil {
			// The copies stay in warm; the next snapshot or open drops them.
			s.logger.LogDemotion(model.TierHot, model.TierWarm, 0, err)
			return errors.Join(copyErr, fmt.Errorf("failed to flush warm tier: %w", err))
		}
		for _, id := range copied {
			s.hot.Remove(id)
		}
		s.metrics.RecordDemotion(model.TierHot, model.TierWarm, len(copied))
	}
	s.logger.LogDemotion(model.TierHot, model.TierWarm, len(copied), copyErr)
	return copyErr
}

func (s *Store) archiveWarmLocked(ctx context.Context, now time.Time) error {
	p := s.opts.policy

	var ids []model.NodeID
	s.warm.Range(func(m model.NodeMeta) bool {
		age := ageOf(m.AccessedAt, now)
		if (m.Confidence.Mu < p.ColdConfidence && age > p.ColdAfter) || age > p.ColdForceAfter {
			ids = append(ids, m.ID)
		}
		return true
	})
	if len(ids) == 0 {
		return nil
	}

	var (
		copied  []model.NodeID
		copyErr error
	)
	for _, id := range ids {
		n, err := s.warm.Get(id)
		if err != nil {
			copyErr = errors.Join(copyErr, fmt.Errorf("failed to archive %s: %w", id, err))
			continue
		}
		s.cold.Insert(n)
		copied = append(copied, id)
	}
	if len(copied) == 0 {
		s.logger.LogDemotion(model.TierWarm, model.TierCold, 0, copyErr)
		return copyErr
	}

	if err := s.cold.Save(ctx); err != nil {
		for _, id := range copied {
			s.cold.Remove(id)
		}
		s.logger.LogDemotion(model.TierWarm, model.TierCold, 0, err)
		return errors.Join(copyErr, err)
	}
	for _, id := range copied {
		s.warm.Remove(id)
	}
	s.metrics.RecordDemotion(model.TierWarm, model.TierCold, len(copied))
	s.logger.LogDemotion(model.TierWarm, model.TierCold, len(copied), copyErr)
	return copyErr
}
