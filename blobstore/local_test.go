package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/vecmem/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreLifecycle(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "cold/records.bin", []byte("first")))
	require.NoError(t, store.Put(ctx, "cold/records.bin", []byte("second")))
	require.NoError(t, store.Put(ctx, "other", []byte("x")))

	got, err := store.Get(ctx, "cold/records.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	names, err := store.List(ctx, "cold/")
	require.NoError(t, err)
	assert.Equal(t, []string{"cold/records.bin"}, names)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"cold/records.bin", "other"}, all)

	require.NoError(t, store.Delete(ctx, "cold/records.bin"))
	require.NoError(t, store.Delete(ctx, "cold/records.bin"))
	_, err = store.Get(ctx, "cold/records.bin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_Lifecycle(t *testing.T) {
	testStoreLifecycle(t, NewLocalStore(t.TempDir()))
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	testStoreLifecycle(t, NewMemoryStore())
}

func TestMemoryStore_CopiesData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte("abc")
	require.NoError(t, store.Put(ctx, "k", data))
	data[0] = 'X'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestMemoryStore_FailPuts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "k", []byte("v1")))

	boom := errors.New("bucket unreachable")
	store.FailPuts(boom)
	assert.ErrorIs(t, store.Put(ctx, "k", []byte("v2")), boom)

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	store.FailPuts(nil)
	require.NoError(t, store.Put(ctx, "k", []byte("v2")))
	assert.Equal(t, 2, store.Puts())
}

func TestLocalStore_FailedPutKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	faulty := fs.NewFaultyFS(nil)
	store := NewLocalStoreFS(dir, faulty)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "cold.bin", []byte("stable contents")))

	faulty.AddRule(fs.TempSuffix, fs.Fault{FailAfterBytes: 4})
	require.Error(t, store.Put(ctx, "cold.bin", []byte("replacement contents")))

	got, err := store.Get(ctx, "cold.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("stable contents"), got)

	_, err = os.Stat(filepath.Join(dir, "cold.bin"+fs.TempSuffix))
	assert.True(t, os.IsNotExist(err))
}
