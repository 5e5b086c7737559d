package cold

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/vecmem/blobstore"
	"github.com/hupe1980/vecmem/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(i int) *model.Node {
	n := model.NewNode(model.NodeType(i%3), []float32{1, 2, 3})
	n.AccessedAt = int64(1000 + i)
	n.Payload = []byte(fmt.Sprintf("payload-%d", i))
	n.Tags = []string{"t"}
	n.Edges = []model.Edge{{Target: model.NewNodeID(), Type: 1, Weight: float32(i)}}
	return n
}

func openTier(t *testing.T, store blobstore.Store, c Compression) *Tier {
	t.Helper()
	tier, err := Open(context.Background(), func(o *Options) {
		o.Store = store
		o.Compression = c
	})
	require.NoError(t, err)
	return tier
}

func TestTier_InsertDropsVector(t *testing.T) {
	tier := openTier(t, blobstore.NewMemoryStore(), CompressionNone)
	n := testNode(1)
	tier.Insert(n)

	r, ok := tier.Get(n.ID)
	require.True(t, ok)
	assert.Equal(t, model.TierCold, r.Meta.Tier)
	assert.Equal(t, n.Payload, r.Payload)
	assert.Nil(t, r.Node().Vector)

	_, ok = tier.Get(model.NewNodeID())
	assert.False(t, ok)
}

func TestTier_SaveLoadRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			tier := openTier(t, store, c)

			nodes := make([]*model.Node, 50)
			for i := range nodes {
				nodes[i] = testNode(i)
				tier.Insert(nodes[i])
			}
			require.True(t, tier.Dirty())
			require.NoError(t, tier.Save(context.Background()))
			assert.False(t, tier.Dirty())

			loaded := openTier(t, store, CompressionNone)
			assert.Equal(t, 50, loaded.Len())
			for _, n := range nodes {
				r, ok := loaded.Get(n.ID)
				require.True(t, ok)
				assert.Equal(t, n.Meta(model.TierCold), r.Meta)
				assert.Equal(t, n.Payload, r.Payload)
				assert.Equal(t, n.Edges, r.Edges)
				assert.Equal(t, n.Tags, r.Tags)
			}
		})
	}
}

func TestTier_LocalStore(t *testing.T) {
	store := blobstore.NewLocalStore(t.TempDir())
	tier := openTier(t, store, CompressionZstd)
	n := testNode(7)
	tier.Insert(n)
	require.NoError(t, tier.Save(context.Background()))

	loaded := openTier(t, store, CompressionZstd)
	assert.True(t, loaded.Contains(n.ID))
}

func TestTier_RejectsCorruptBlob(t *testing.T) {
	store := blobstore.NewMemoryStore()
	tier := openTier(t, store, CompressionLZ4)
	tier.Insert(testNode(1))
	require.NoError(t, tier.Save(context.Background()))

	data, err := store.Get(context.Background(), DefaultBlobName)
	require.NoError(t, err)
	data[headerSize+2] ^= 0xFF
	require.NoError(t, store.Put(context.Background(), DefaultBlobName, data))

	_, err = Open(context.Background(), func(o *Options) { o.Store = store })
	assert.ErrorIs(t, err, ErrCorrupted)

	require.NoError(t, store.Put(context.Background(), DefaultBlobName, []byte("short")))
	_, err = Open(context.Background(), func(o *Options) { o.Store = store })
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestTier_UpdateAndRemove(t *testing.T) {
	tier := openTier(t, blobstore.NewMemoryStore(), CompressionNone)
	n := testNode(2)
	tier.Insert(n)
	require.NoError(t, tier.Save(context.Background()))

	ok := tier.Update(n.ID, func(r *Record) {
		r.Meta.AccessedAt = 42
	})
	require.True(t, ok)
	assert.True(t, tier.Dirty())

	r, _ := tier.Get(n.ID)
	assert.Equal(t, int64(42), r.Meta.AccessedAt)

	assert.False(t, tier.Update(model.NewNodeID(), func(*Record) {}))
	assert.True(t, tier.Remove(n.ID))
	assert.False(t, tier.Remove(n.ID))
	assert.Equal(t, 0, tier.Len())
}

func TestTier_CandidatesForPromotion(t *testing.T) {
	tier := openTier(t, blobstore.NewMemoryStore(), CompressionNone)
	nodes := make([]*model.Node, 20)
	for i := range nodes {
		nodes[i] = testNode(i)
		tier.Insert(nodes[i])
	}

	got := tier.CandidatesForPromotion(3)
	require.Len(t, got, 3)
	assert.Equal(t, nodes[19].ID, got[0].ID)
	assert.Equal(t, nodes[18].ID, got[1].ID)
	assert.Equal(t, nodes[17].ID, got[2].ID)

	assert.Len(t, tier.CandidatesForPromotion(100), 20)
	assert.Nil(t, tier.CandidatesForPromotion(0))
}

func TestTier_RequiresStore(t *testing.T) {
	_, err := Open(context.Background())
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
}
