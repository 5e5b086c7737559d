package vecmem

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecmem/blobstore"
	"github.com/hupe1980/vecmem/index"
	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/tier/hot"
	"github.com/hupe1980/vecmem/tier/warm"
	"github.com/hupe1980/vecmem/wal"
)

const (
	testDim = 8
	day     = 24 * time.Hour
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func openStore(t *testing.T, dir string, optFns ...Option) *Store {
	t.Helper()
	s, err := Open(dir, testDim, append([]Option{WithClock(testClock), WithSyncInterval(0)}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testNode(r *rand.Rand, mu float32, age time.Duration) *model.Node {
	v := make([]float32, testDim)
	for i := range v {
		v[i] = r.Float32()*2 - 1
	}
	n := model.NewNode(1, v)
	n.Confidence.Mu = mu
	n.AccessedAt = testNow.Add(-age).UnixMilli()
	n.CreatedAt = n.AccessedAt
	n.Payload = []byte("payload")
	n.Tags = []string{"memory"}
	return n
}

func smallHotPolicy() TierPolicy {
	p := DefaultTierPolicy
	p.HotCapacity = 1
	return p
}

func resultIDs(res []index.Result) []model.NodeID {
	ids := make([]model.NodeID, len(res))
	for i, r := range res {
		ids[i] = r.ID
	}
	return ids
}

func hotState(s *Store) map[model.NodeID]*model.Node {
	state := make(map[model.NodeID]*model.Node)
	s.hot.Range(func(n *model.Node) bool {
		state[n.ID] = n.Clone()
		return true
	})
	return state
}

func TestStore_InsertGetRoundTrip(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	s := openStore(t, t.TempDir(), WithMetricsCollector(metrics))
	r := rand.New(rand.NewSource(1))

	n := testNode(r, 0.7, time.Hour)
	n.Edges = []model.Edge{{Target: model.NewNodeID(), Type: 3, Weight: 0.25}}
	require.NoError(t, s.Insert(n))

	got, err := s.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, n.Type, got.Type)
	assert.Equal(t, n.Confidence, got.Confidence)
	assert.Equal(t, n.CreatedAt, got.CreatedAt)
	assert.Equal(t, n.Vector, got.Vector)
	assert.Equal(t, n.Payload, got.Payload)
	assert.Equal(t, n.Edges, got.Edges)
	assert.Equal(t, testNow.UnixMilli(), got.AccessedAt)

	tier, ok := s.Tier(n.ID)
	require.True(t, ok)
	assert.Equal(t, model.TierHot, tier)
	assert.True(t, s.Contains(n.ID))

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.InsertCount)
	assert.Equal(t, int64(1), stats.HotHits)
	assert.Equal(t, int64(2), stats.WALAppends)
}

func TestStore_InsertCopiesNode(t *testing.T) {
	s := openStore(t, t.TempDir())
	n := testNode(rand.New(rand.NewSource(2)), 0.5, 0)
	require.NoError(t, s.Insert(n))

	n.Payload[0] = 'X'
	got, err := s.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got.Payload)
}

func TestStore_InvalidInput(t *testing.T) {
	_, err := Open(t.TempDir(), 0)
	var dimErr *ErrInvalidDimension
	assert.ErrorAs(t, err, &dimErr)

	s := openStore(t, t.TempDir())

	var mismatch *ErrDimensionMismatch
	assert.ErrorAs(t, s.Insert(model.NewNode(0, []float32{1, 2})), &mismatch)
	assert.Equal(t, testDim, mismatch.Expected)
	assert.ErrorIs(t, s.Insert(nil), ErrInvalidNode)

	_, err = s.Search(make([]float32, testDim), 0)
	assert.ErrorIs(t, err, ErrInvalidK)
	_, err = s.Search([]float32{1}, 3)
	assert.ErrorAs(t, err, &mismatch)

	unknown := model.NewNodeID()
	_, err = s.Get(unknown)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Remove(unknown), ErrNotFound)
	assert.ErrorIs(t, s.Touch(unknown), ErrNotFound)
	assert.ErrorIs(t, s.AddEdge(unknown, model.Edge{Target: unknown}), ErrNotFound)
}

func TestStore_ReopenReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	r := rand.New(rand.NewSource(3))

	a, b := testNode(r, 0.5, day), testNode(r, 0.5, day)
	require.NoError(t, s.Insert(a))
	require.NoError(t, s.Insert(b))
	edge := model.Edge{Target: b.ID, Type: 2, Weight: 0.9}
	require.NoError(t, s.AddEdge(a.ID, edge))
	conf := model.Confidence{Mu: 0.8, SigmaSq: 0.05, N: 4, UpdatedAt: 77}
	require.NoError(t, s.UpdateConfidence(a.ID, conf))
	require.NoError(t, s.Touch(a.ID))
	require.NoError(t, s.Remove(b.ID))
	require.NoError(t, s.Close())

	reopened := openStore(t, dir)
	assert.Equal(t, 1, reopened.HotLen())
	assert.False(t, reopened.Contains(b.ID))

	got, err := reopened.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.Edge{edge}, got.Edges)
	assert.Equal(t, conf, got.Confidence)
	assert.Equal(t, testNow.UnixMilli(), got.AccessedAt)
	assert.Equal(t, a.Vector, got.Vector)
}

func TestStore_SyncSnapshotsAndTruncates(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	r := rand.New(rand.NewSource(4))

	nodes := make([]*model.Node, 30)
	for i := range nodes {
		nodes[i] = testNode(r, 0.5, time.Hour)
		require.NoError(t, s.Insert(nodes[i]))
	}
	query := nodes[3].Vector
	before, err := s.Search(query, 5)
	require.NoError(t, err)

	statsBefore, err := s.Stats()
	require.NoError(t, err)
	require.NoError(t, s.Sync())
	statsAfter, err := s.Stats()
	require.NoError(t, err)

	assert.Less(t, statsAfter.WALBytes, statsBefore.WALBytes)
	assert.Equal(t, statsBefore.LastSeq+1, statsAfter.LastSeq)
	require.NoError(t, s.Close())

	reopened := openStore(t, dir)
	assert.Equal(t, 30, reopened.HotLen())
	after, err := reopened.Search(query, 5)
	require.NoError(t, err)
	assert.Equal(t, resultIDs(before), resultIDs(after))
	assert.Equal(t, nodes[3].ID, after[0].ID)

	// Sequences keep increasing after the checkpoint.
	n := testNode(r, 0.5, 0)
	require.NoError(t, reopened.Insert(n))
	st, err := reopened.Stats()
	require.NoError(t, err)
	assert.Greater(t, st.LastSeq, statsAfter.LastSeq)
}

func TestStore_ReplayIsIdempotent(t *testing.T) {
	s := openStore(t, t.TempDir())
	r := rand.New(rand.NewSource(5))

	a, b, c := testNode(r, 0.5, time.Hour), testNode(r, 0.5, time.Hour), testNode(r, 0.5, time.Hour)
	for _, n := range []*model.Node{a, b, c} {
		require.NoError(t, s.Insert(n))
	}
	require.NoError(t, s.AddEdge(a.ID, model.Edge{Target: b.ID, Type: 1, Weight: 0.5}))
	require.NoError(t, s.UpdateConfidence(b.ID, model.Confidence{Mu: 0.8, SigmaSq: 0.1, N: 3, UpdatedAt: 1}))
	require.NoError(t, s.Touch(a.ID))
	require.NoError(t, s.Remove(c.ID))
	a.Payload = []byte("updated")
	require.NoError(t, s.Insert(a))

	want := hotState(s)
	require.Len(t, want, 2)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hot = hot.New(testDim)
	s.seen = 0
	clear(s.own)
	require.NoError(t, s.wal.ReplayDeltas(0, s.applyLocked))
	assert.Equal(t, want, hotState(s))

	// A second full replay over the same state converges too.
	s.seen = 0
	require.NoError(t, s.wal.ReplayDeltas(0, s.applyLocked))
	assert.Equal(t, want, hotState(s))

	// Entries already read back are skipped.
	require.NoError(t, s.wal.ReplayDeltas(0, s.applyLocked))
	assert.Equal(t, want, hotState(s))
}

func TestStore_ThreeNodeDemotionScenario(t *testing.T) {
	policy := smallHotPolicy()
	policy.WarmAfter = 30 * day
	s := openStore(t, t.TempDir(), WithTierPolicy(policy), WithWarmCapacity(8))
	r := rand.New(rand.NewSource(6))

	fresh := testNode(r, 0.9, 0)
	stale := testNode(r, 0.1, 40*day)
	middle := testNode(r, 0.5, 10*day)
	for _, n := range []*model.Node{fresh, stale, middle} {
		require.NoError(t, s.Insert(n))
	}

	require.NoError(t, s.ManageTiers())

	for id, want := range map[model.NodeID]model.StorageTier{
		fresh.ID:  model.TierHot,
		stale.ID:  model.TierWarm,
		middle.ID: model.TierHot,
	} {
		got, ok := s.Tier(id)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 2, s.HotLen())
	assert.Equal(t, 1, s.WarmLen())
	assert.Equal(t, 0, s.ColdLen())
}

func TestStore_DemotionKeepsNodesWhenWarmIsFull(t *testing.T) {
	s := openStore(t, t.TempDir(), WithTierPolicy(smallHotPolicy()), WithWarmCapacity(0))
	r := rand.New(rand.NewSource(7))

	nodes := make([]*model.Node, 5)
	for i := range nodes {
		nodes[i] = testNode(r, 0.05, 60*day)
		require.NoError(t, s.Insert(nodes[i]))
	}

	err := s.ManageTiers()
	assert.ErrorIs(t, err, warm.ErrCapacityExhausted)
	assert.Equal(t, 5, s.HotLen())
	assert.Equal(t, 0, s.WarmLen())

	for _, n := range nodes {
		got, err := s.Get(n.ID)
		require.NoError(t, err)
		assert.Equal(t, n.Vector, got.Vector)
	}
}

func TestStore_ManageTiersWithinCapacityIsNoop(t *testing.T) {
	s := openStore(t, t.TempDir())
	n := testNode(rand.New(rand.NewSource(8)), 0.01, 200*day)
	require.NoError(t, s.Insert(n))

	require.NoError(t, s.ManageTiers())
	tier, _ := s.Tier(n.ID)
	assert.Equal(t, model.TierHot, tier)
}

func TestStore_WarmPromotionAndSearch(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	s := openStore(t, t.TempDir(), WithTierPolicy(smallHotPolicy()), WithWarmCapacity(4), WithMetricsCollector(metrics))
	r := rand.New(rand.NewSource(9))

	fresh := testNode(r, 0.9, 0)
	stale := testNode(r, 0.1, 20*day)
	require.NoError(t, s.Insert(fresh))
	require.NoError(t, s.Insert(stale))
	require.NoError(t, s.ManageTiers())
	require.Equal(t, 1, s.WarmLen())

	// Hot has fewer than k results, so warm is searched too.
	res, err := s.Search(stale.Vector, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, stale.ID, res[0].ID)
	assert.Greater(t, res[0].Score, float32(0.98))

	got, err := s.Get(stale.ID)
	require.NoError(t, err)
	assert.InDeltaSlice(t, stale.Vector, got.Vector, 0.02)
	assert.Equal(t, stale.Payload, got.Payload)
	assert.Equal(t, stale.Tags, got.Tags)
	assert.Equal(t, testNow.UnixMilli(), got.AccessedAt)

	tier, _ := s.Tier(stale.ID)
	assert.Equal(t, model.TierHot, tier)
	assert.Equal(t, int64(1), metrics.GetStats().Promotions)
	assert.Equal(t, int64(1), metrics.GetStats().WarmHits)

	// The snapshot supersedes the warm copy.
	require.NoError(t, s.Sync())
	assert.Equal(t, 0, s.WarmLen())
	assert.Equal(t, 2, s.HotLen())
}

func TestStore_TiersSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	policy := smallHotPolicy()
	s := openStore(t, dir, WithTierPolicy(policy), WithWarmCapacity(4))
	r := rand.New(rand.NewSource(10))

	fresh := testNode(r, 0.9, 0)
	stale := testNode(r, 0.1, 20*day)
	require.NoError(t, s.Insert(fresh))
	require.NoError(t, s.Insert(stale))
	require.NoError(t, s.ManageTiers())
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close())

	reopened := openStore(t, dir, WithTierPolicy(policy), WithWarmCapacity(4))
	tier, ok := reopened.Tier(stale.ID)
	require.True(t, ok)
	assert.Equal(t, model.TierWarm, tier)
	assert.Equal(t, 1, reopened.HotLen())
	assert.Equal(t, 1, reopened.WarmLen())
}

// archiveOne drives a stale node through warm into cold and returns it.
func archiveOne(t *testing.T, s *Store, r *rand.Rand) *model.Node {
	t.Helper()

	stale := testNode(r, 0.1, 100*day)
	require.NoError(t, s.Insert(stale))
	require.NoError(t, s.Insert(testNode(r, 0.9, 0)))
	require.NoError(t, s.ManageTiers())
	require.Equal(t, 1, s.WarmLen())

	require.NoError(t, s.Insert(testNode(r, 0.9, 0)))
	require.NoError(t, s.ManageTiers())
	require.Equal(t, 0, s.WarmLen())
	require.Equal(t, 1, s.ColdLen())
	return stale
}

func TestStore_ColdArchiveAndRehydrate(t *testing.T) {
	s := openStore(t, t.TempDir(), WithTierPolicy(smallHotPolicy()), WithWarmCapacity(4))
	r := rand.New(rand.NewSource(11))
	stale := archiveOne(t, s, r)

	tier, ok := s.Tier(stale.ID)
	require.True(t, ok)
	assert.Equal(t, model.TierCold, tier)

	_, err := s.Get(stale.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	candidates := s.ColdCandidates(5)
	require.Len(t, candidates, 1)
	assert.Equal(t, stale.ID, candidates[0].ID)

	_, err = s.Rehydrate(stale.ID, []float32{1})
	var mismatch *ErrDimensionMismatch
	assert.ErrorAs(t, err, &mismatch)

	got, err := s.Rehydrate(stale.ID, stale.Vector)
	require.NoError(t, err)
	assert.Equal(t, stale.Payload, got.Payload)
	assert.Equal(t, stale.Vector, got.Vector)

	tier, _ = s.Tier(stale.ID)
	assert.Equal(t, model.TierHot, tier)

	require.NoError(t, s.Sync())
	assert.Equal(t, 0, s.ColdLen())
}

func TestStore_ArchiveRollsBackWhenColdSaveFails(t *testing.T) {
	bucket := blobstore.NewMemoryStore()
	s := openStore(t, t.TempDir(),
		WithTierPolicy(smallHotPolicy()),
		WithWarmCapacity(4),
		WithColdStore(bucket),
	)
	r := rand.New(rand.NewSource(12))

	stale := testNode(r, 0.1, 100*day)
	require.NoError(t, s.Insert(stale))
	require.NoError(t, s.Insert(testNode(r, 0.9, 0)))
	require.NoError(t, s.ManageTiers())
	require.Equal(t, 1, s.WarmLen())

	boom := errors.New("bucket unreachable")
	bucket.FailPuts(boom)
	require.NoError(t, s.Insert(testNode(r, 0.9, 0)))
	assert.ErrorIs(t, s.ManageTiers(), boom)

	tier, ok := s.Tier(stale.ID)
	require.True(t, ok)
	assert.Equal(t, model.TierWarm, tier)
	assert.Equal(t, 0, s.ColdLen())

	bucket.FailPuts(nil)
	require.NoError(t, s.ManageTiers())
	assert.Equal(t, 0, s.WarmLen())
	assert.Equal(t, 1, s.ColdLen())
	assert.Positive(t, bucket.Puts())
}

func TestStore_ReembedderBringsColdNodesBack(t *testing.T) {
	vec := make([]float32, testDim)
	vec[0] = 1
	var seen model.NodeID
	s := openStore(t, t.TempDir(),
		WithTierPolicy(smallHotPolicy()),
		WithWarmCapacity(4),
		WithReembedder(ReembedderFunc(func(n *model.Node) ([]float32, error) {
			seen = n.ID
			return vec, nil
		})),
	)
	stale := archiveOne(t, s, rand.New(rand.NewSource(12)))

	got, err := s.Get(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, stale.ID, seen)
	assert.Equal(t, vec, got.Vector)
	assert.Equal(t, stale.Payload, got.Payload)

	res, err := s.Search(vec, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, stale.ID, res[0].ID)
}

func TestStore_DurabilityPolicy(t *testing.T) {
	r := rand.New(rand.NewSource(13))

	t.Run("best effort applies in memory", func(t *testing.T) {
		metrics := &BasicMetricsCollector{}
		s := openStore(t, t.TempDir(), WithMetricsCollector(metrics))
		require.NoError(t, s.wal.Close())

		n := testNode(r, 0.5, 0)
		require.NoError(t, s.Insert(n))
		assert.True(t, s.Contains(n.ID))
		assert.Equal(t, int64(1), metrics.GetStats().WALErrors)
	})

	t.Run("strict rejects the write", func(t *testing.T) {
		s := openStore(t, t.TempDir(), WithDurabilityPolicy(Strict))
		require.NoError(t, s.wal.Close())

		n := testNode(r, 0.5, 0)
		err := s.Insert(n)
		assert.ErrorIs(t, err, wal.ErrClosed)
		assert.False(t, s.Contains(n.ID))
	})
}

func TestStore_FollowerSeesOwnerWrites(t *testing.T) {
	dir := t.TempDir()
	owner := openStore(t, dir)
	follower := openStore(t, dir)
	require.True(t, owner.IsOwner())
	require.False(t, follower.IsOwner())

	r := rand.New(rand.NewSource(14))
	a := testNode(r, 0.5, 0)
	require.NoError(t, follower.Insert(a))

	_, err := owner.SyncFromWAL()
	require.NoError(t, err)
	got, err := owner.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Vector, got.Vector)

	// The owner checkpoints; later follower writes still reach it.
	require.NoError(t, owner.Sync())
	b := testNode(r, 0.5, 0)
	require.NoError(t, follower.Insert(b))
	_, err = owner.SyncFromWAL()
	require.NoError(t, err)
	assert.True(t, owner.Contains(b.ID))

	// Followers never manage tiers.
	require.NoError(t, follower.ManageTiers())
	require.NoError(t, follower.Sync())
	assert.Equal(t, 0, follower.WarmLen())
	assert.Nil(t, follower.ColdCandidates(3))
}

func TestStore_InterleavedWritesFromTwoProcesses(t *testing.T) {
	t.Run("foreign edge before own touch", func(t *testing.T) {
		dir := t.TempDir()
		owner := openStore(t, dir)
		follower := openStore(t, dir)
		r := rand.New(rand.NewSource(21))

		x, y := testNode(r, 0.5, 0), testNode(r, 0.5, 0)
		require.NoError(t, owner.Insert(x))
		require.NoError(t, owner.Insert(y))
		_, err := follower.SyncFromWAL()
		require.NoError(t, err)

		edge := model.Edge{Target: y.ID, Type: 2, Weight: 0.75}
		require.NoError(t, follower.AddEdge(x.ID, edge))

		// The owner's touch gets a newer sequence than the follower's edge.
		_, err = owner.Get(x.ID)
		require.NoError(t, err)
		require.NoError(t, owner.Sync())
		require.NoError(t, follower.Close())
		require.NoError(t, owner.Close())

		reopened := openStore(t, dir)
		got, err := reopened.Get(x.ID)
		require.NoError(t, err)
		assert.Equal(t, []model.Edge{edge}, got.Edges)
	})

	t.Run("foreign update before own touch", func(t *testing.T) {
		dir := t.TempDir()
		owner := openStore(t, dir)
		follower := openStore(t, dir)
		r := rand.New(rand.NewSource(22))

		x := testNode(r, 0.5, 0)
		require.NoError(t, owner.Insert(x))
		_, err := follower.SyncFromWAL()
		require.NoError(t, err)

		updated := x.Clone()
		updated.Payload = []byte("rewritten by follower")
		require.NoError(t, follower.Insert(updated))

		_, err = owner.Get(x.ID)
		require.NoError(t, err)
		require.NoError(t, owner.Sync())
		require.NoError(t, follower.Close())
		require.NoError(t, owner.Close())

		reopened := openStore(t, dir)
		got, err := reopened.Get(x.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("rewritten by follower"), got.Payload)
	})

	t.Run("own write after foreign one survives", func(t *testing.T) {
		dir := t.TempDir()
		owner := openStore(t, dir)
		follower := openStore(t, dir)
		r := rand.New(rand.NewSource(23))

		x := testNode(r, 0.5, 0)
		require.NoError(t, owner.Insert(x))
		_, err := follower.SyncFromWAL()
		require.NoError(t, err)

		require.NoError(t, follower.UpdateConfidence(x.ID, model.Confidence{Mu: 0.2, UpdatedAt: 1}))
		require.NoError(t, owner.UpdateConfidence(x.ID, model.Confidence{Mu: 0.9, UpdatedAt: 2}))

		// The owner reads the older foreign entry after applying its own.
		_, err = owner.SyncFromWAL()
		require.NoError(t, err)
		got, err := owner.Get(x.ID)
		require.NoError(t, err)
		assert.Equal(t, float32(0.9), got.Confidence.Mu)

		require.NoError(t, owner.Sync())
		require.NoError(t, follower.Close())
		require.NoError(t, owner.Close())

		reopened := openStore(t, dir)
		got, err = reopened.Get(x.ID)
		require.NoError(t, err)
		assert.Equal(t, float32(0.9), got.Confidence.Mu)
	})
}

func TestStore_FollowerReloadsSnapshotAfterCheckpoint(t *testing.T) {
	dir := t.TempDir()
	owner := openStore(t, dir)
	follower := openStore(t, dir)
	r := rand.New(rand.NewSource(24))

	a := testNode(r, 0.5, 0)
	require.NoError(t, owner.Insert(a))
	require.NoError(t, owner.Sync())

	_, err := follower.SyncFromWAL()
	require.NoError(t, err)
	assert.True(t, follower.Contains(a.ID))

	// The follower's own write is absorbed by the owner before the follower
	// reads it back.
	b := testNode(r, 0.5, 0)
	require.NoError(t, follower.Insert(b))
	require.NoError(t, owner.Sync())
	c := testNode(r, 0.5, 0)
	require.NoError(t, owner.Insert(c))

	_, err = follower.SyncFromWAL()
	require.NoError(t, err)
	assert.Equal(t, 3, follower.HotLen())
	for _, n := range []*model.Node{a, b, c} {
		assert.True(t, follower.Contains(n.ID))
	}
	assert.Empty(t, follower.own)
}

func TestStore_CorruptedWALRefusesWritesUntilSync(t *testing.T) {
	dir := t.TempDir()
	r := rand.New(rand.NewSource(25))

	s := openStore(t, dir, WithDurabilityPolicy(Strict))
	a, b := testNode(r, 0.5, 0), testNode(r, 0.5, 0)
	require.NoError(t, s.Insert(a))
	require.NoError(t, s.Insert(b))
	require.NoError(t, s.Close())

	// Break the magic of the second entry.
	path := filepath.Join(dir, WALFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	second := int(binary.LittleEndian.Uint32(data[4:8]))
	copy(data[second:], []byte{0, 0, 0, 0})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s = openStore(t, dir, WithDurabilityPolicy(Strict))
	assert.True(t, s.Contains(a.ID))
	assert.False(t, s.Contains(b.ID))

	c := testNode(r, 0.5, 0)
	err = s.Insert(c)
	require.ErrorIs(t, err, wal.ErrCorrupted)
	assert.False(t, s.Contains(c.ID))

	// Sync keeps what could be read and drops the damage.
	require.NoError(t, s.Sync())
	require.NoError(t, s.Insert(c))
	require.NoError(t, s.Close())

	s = openStore(t, dir, WithDurabilityPolicy(Strict))
	assert.True(t, s.Contains(a.ID))
	assert.True(t, s.Contains(c.ID))
	assert.Equal(t, 2, s.HotLen())
}

func TestStore_Run(t *testing.T) {
	s := openStore(t, t.TempDir(), WithTierPolicy(smallHotPolicy()), WithRunInterval(10*time.Millisecond))
	r := rand.New(rand.NewSource(15))
	require.NoError(t, s.Insert(testNode(r, 0.1, 40*day)))
	require.NoError(t, s.Insert(testNode(r, 0.9, 0)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.WarmLen() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStore_Closed(t *testing.T) {
	s := openStore(t, t.TempDir())
	n := testNode(rand.New(rand.NewSource(16)), 0.5, 0)
	require.NoError(t, s.Insert(n))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Insert(n), ErrClosed)
	_, err := s.Get(n.ID)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Search(n.Vector, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Sync(), ErrClosed)
	assert.ErrorIs(t, s.ManageTiers(), ErrClosed)
	_, err = s.Stats()
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, s.Contains(n.ID))
}

func TestValueScore(t *testing.T) {
	fresh := ValueScore(model.Confidence{Mu: 0.9}, testNow.UnixMilli(), testNow)
	assert.InDelta(t, 0.96, fresh, 1e-6)

	old := ValueScore(model.Confidence{Mu: 0.1}, testNow.Add(-40*day).UnixMilli(), testNow)
	assert.InDelta(t, 0.04, old, 1e-3)

	halfLife := ValueScore(model.Confidence{}, testNow.Add(-3*day).UnixMilli(), testNow)
	assert.InDelta(t, 0.3, halfLife, 0.01)

	future := ValueScore(model.Confidence{}, testNow.Add(time.Hour).UnixMilli(), testNow)
	assert.InDelta(t, 0.6, future, 1e-6)
}
