package minio

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/vecmem/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ blobstore.Store = (*Store)(nil)

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := "localhost:9000"
	accessKey := "minioadmin"
	secretKey := "minioadmin"
	bucket := "test-vecmem"

	store, err := New(endpoint, bucket, func(o *Options) {
		o.AccessKey = accessKey
		o.SecretKey = secretKey
		o.Prefix = "test-prefix/"
	})
	require.NoError(t, err)

	ctx := context.Background()

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := store.client.ListBuckets(pingCtx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	require.NoError(t, store.EnsureBucket(ctx, ""))

	data := []byte("cold tier body")
	require.NoError(t, store.Put(ctx, "cold.bin", data))

	got, err := store.Get(ctx, "cold.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "cold.bin")

	require.NoError(t, store.Delete(ctx, "cold.bin"))

	_, err = store.Get(ctx, "cold.bin")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_Key(t *testing.T) {
	s, err := New("localhost:9000", "bucket", func(o *Options) { o.Prefix = "memories/" })
	require.NoError(t, err)

	assert.Equal(t, "memories/cold.bin", s.key("cold.bin"))
	assert.Equal(t, "cold.bin", NewStore(nil, "bucket", "").key("cold.bin"))
}
