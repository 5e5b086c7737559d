//go:build unix

package flock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_ExclusiveBlocksOtherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Lock())

	acquired := make(chan struct{})
	go func() {
		_ = b.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second handle acquired an exclusive lock while the first held it")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, a.Unlock())

	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("second handle never acquired the lock")
	}
	require.NoError(t, b.Unlock())
}

func TestFile_SharedLocksCoexist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.lock")

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.RLock())
	require.NoError(t, b.RLock())
	require.NoError(t, a.Unlock())
	require.NoError(t, b.Unlock())
}

func TestFile_Closed(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "c.lock"))
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Lock(), ErrClosed)
}

func TestLock_OnDataFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "data")
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, Lock(f))
	require.NoError(t, Unlock(f))
	require.NoError(t, RLock(f))
	require.NoError(t, Unlock(f))
}

func TestFile_TryLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.lock")

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.TryLock())
	assert.ErrorIs(t, b.TryLock(), ErrWouldBlock)

	require.NoError(t, a.Unlock())
	require.NoError(t, b.TryLock())
	require.NoError(t, b.Unlock())
}
