package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())
	assert.NoError(t, f.Close())

	info, err := os.Stat(fpath)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	data, err := lfs.ReadFile(fpath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	newPath := filepath.Join(dir, "renamed.txt")
	assert.NoError(t, lfs.Rename(fpath, newPath))
	assert.NoError(t, lfs.Remove(newPath))
	_, err = os.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")

	require.NoError(t, WriteFileAtomic(nil, path, []byte("v1"), 0o644))
	require.NoError(t, WriteFileAtomic(nil, path, []byte("v2"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	_, err = os.Stat(path + TempSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFileAtomic_FailuresKeepOldFile(t *testing.T) {
	cases := map[string]Fault{
		"short write": {FailAfterBytes: 3},
		"sync":        {FailAfterBytes: -1, FailOnSync: true},
		"close":       {FailAfterBytes: -1, FailOnClose: true},
		"rename":      {FailAfterBytes: -1, FailOnRename: true},
	}

	for name, fault := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snap.bin")
			require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

			ffs := NewFaultyFS(nil)
			ffs.AddRule(TempSuffix, fault)

			err := WriteFileAtomic(ffs, path, []byte("new contents"), 0o644)
			require.ErrorIs(t, err, ErrInjected)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "old", string(data))

			_, err = os.Stat(path + TempSuffix)
			assert.True(t, os.IsNotExist(err), "temp file must be cleaned up")
		})
	}
}

func TestFaultyFS_TornWrite(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "faulty.log")
	ffs := NewFaultyFS(LocalFS{})
	ffs.AddRule("faulty", Fault{FailAfterBytes: 5})

	f, err := ffs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("!!"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 0, n)
	require.NoError(t, f.Close())

	assert.Equal(t, int64(5), ffs.Written())

	ffs.ClearRules()
	f, err = ffs.OpenFile(fpath, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("!!"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(fpath)
	require.NoError(t, err)
	assert.Equal(t, "hello!!", string(data))
}
