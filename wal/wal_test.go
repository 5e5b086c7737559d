package wal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/vecmem/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openWAL(t *testing.T, path string, optFns ...func(o *Options)) *WAL {
	t.Helper()
	w, err := Open(path, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func testNode(vec ...float32) *model.Node {
	n := model.NewNode(1, vec)
	n.Payload = []byte("payload")
	n.Tags = []string{"t1"}
	return n
}

// entryOffsets frames the file and returns the offset of every entry.
func entryOffsets(t *testing.T, path string) []int64 {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var offs []int64
	for off := 0; off+HeaderSize <= len(data); {
		h := decodeHeader(data[off:])
		require.Equal(t, Magic, h.Magic)
		offs = append(offs, int64(off))
		off += int(h.Length)
	}
	return offs
}

func collect(t *testing.T, scan func(func(Entry) error) error) []Entry {
	t.Helper()
	var entries []Entry
	require.NoError(t, scan(func(e Entry) error {
		entries = append(entries, e)
		return nil
	}))
	return entries
}

func TestWAL_AppendReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecmem.wal")
	w := openWAL(t, path)

	n := testNode(1, 2, 3)
	other := model.NewNodeID()

	seq, err := w.Append(OpInsert, n)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = w.AppendTouch(n.ID, 12345)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	conf := model.Confidence{Mu: 0.9, SigmaSq: 0.01, N: 4, UpdatedAt: 777}
	_, err = w.AppendConfidence(n.ID, conf)
	require.NoError(t, err)

	edge := model.Edge{Target: other, Type: 7, Weight: 0.25}
	_, err = w.AppendEdge(n.ID, edge)
	require.NoError(t, err)

	seq, err = w.AppendDelete(other)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), seq)
	assert.Equal(t, uint64(5), w.LastSeq())

	full := collect(t, func(fn func(Entry) error) error { return w.Replay(0, fn) })
	require.Len(t, full, 2)
	assert.Equal(t, OpInsert, full[0].Op)
	assert.Equal(t, n, full[0].Node)
	assert.Equal(t, OpDelete, full[1].Op)
	assert.Equal(t, other, full[1].ID)

	all := collect(t, func(fn func(Entry) error) error { return w.ReplayDeltas(0, fn) })
	require.Len(t, all, 5)
	assert.Equal(t, FormatTouch, all[1].Format)
	assert.Equal(t, int64(12345), all[1].AccessedAt)
	assert.Equal(t, FormatConfidence, all[2].Format)
	assert.Equal(t, conf, all[2].Confidence)
	assert.Equal(t, FormatEdge, all[3].Format)
	assert.Equal(t, n.ID, all[3].ID)
	assert.Equal(t, edge, all[3].Edge)

	since := collect(t, func(fn func(Entry) error) error { return w.ReplayDeltas(3, fn) })
	require.Len(t, since, 2)
	assert.Equal(t, uint64(4), since[0].Seq)
}

func TestWAL_QuantizedNodeFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecmem.wal")
	w := openWAL(t, path, func(o *Options) { o.NodeFormat = FormatInt8 })

	n := testNode(0.5, -0.25, 1)
	_, err := w.Append(OpInsert, n)
	require.NoError(t, err)

	entries := collect(t, func(fn func(Entry) error) error { return w.Replay(0, fn) })
	require.Len(t, entries, 1)
	assert.Equal(t, FormatInt8, entries[0].Format)
	for i, x := range n.Vector {
		assert.InDelta(t, x, entries[0].Node.Vector[i], 0.01)
	}

	_, err = Open(path, func(o *Options) { o.NodeFormat = FormatTouch })
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestWAL_ChecksumMismatchSkipsOnlyThatEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecmem.wal")
	w := openWAL(t, path)

	nodes := []*model.Node{testNode(1, 0), testNode(0, 1), testNode(1, 1)}
	for _, n := range nodes {
		_, err := w.Append(OpInsert, n)
		require.NoError(t, err)
	}

	offs := entryOffsets(t, path)
	require.Len(t, offs, 3)

	// Flip one payload byte of the second entry.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	pos := offs[1] + HeaderSize + 20
	b := make([]byte, 1)
	_, err = f.ReadAt(b, pos)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b, pos)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries := collect(t, func(fn func(Entry) error) error { return w.Replay(0, fn) })
	require.Len(t, entries, 2)
	assert.Equal(t, nodes[0].ID, entries[0].ID)
	assert.Equal(t, nodes[2].ID, entries[1].ID)
}

func TestWAL_CorruptionAbortsScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecmem.wal")
	w := openWAL(t, path)

	for i := 0; i < 3; i++ {
		_, err := w.Append(OpInsert, testNode(float32(i), 1))
		require.NoError(t, err)
	}
	offs := entryOffsets(t, path)

	// Break the magic of the second entry.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0, 0, 0, 0}, offs[1])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var got []Entry
	err = w.Replay(0, func(e Entry) error {
		got = append(got, e)
		return nil
	})
	require.ErrorIs(t, err, ErrCorrupted)

	var cerr *CorruptionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, offs[1], cerr.Offset)
	assert.Len(t, got, 1)
}

func TestWAL_CorruptionRefusesAppendsUntilCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecmem.wal")

	w, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := w.Append(OpInsert, testNode(float32(i), 1))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	offs := entryOffsets(t, path)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0, 0, 0, 0}, offs[1])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w = openWAL(t, path)
	assert.Equal(t, uint64(1), w.LastSeq())

	_, err = w.Append(OpInsert, testNode(9, 9))
	require.ErrorIs(t, err, ErrCorrupted)
	var cerr *CorruptionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, offs[1], cerr.Offset)

	_, err = w.AppendTouch(model.NewNodeID(), 1)
	require.ErrorIs(t, err, ErrCorrupted)

	// A checkpoint keeps the readable prefix and drops the damage.
	var absorbed []uint64
	require.NoError(t, w.Checkpoint(func(e Entry) error {
		absorbed = append(absorbed, e.Seq)
		return nil
	}, func(watermark uint64) error {
		assert.Equal(t, uint64(1), watermark)
		return nil
	}))
	assert.Equal(t, []uint64{1}, absorbed)
	assert.Len(t, entryOffsets(t, path), 1)

	seq, err := w.Append(OpInsert, testNode(9, 9))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	assert.Len(t, collect(t, func(fn func(Entry) error) error { return w.Replay(0, fn) }), 1)
}

func TestWAL_TornTailIsRecovered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecmem.wal")

	w, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := w.Append(OpInsert, testNode(float32(i), 1))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	st, err := os.Stat(path)
	require.NoError(t, err)
	goodSize := st.Size()

	// Simulate a crash in the middle of a third append: a complete header
	// claiming more payload than was written.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	torn := make([]byte, HeaderSize+5)
	(&header{Magic: Magic, Length: HeaderSize + 100, Seq: 3, Format: FormatFloat32, Op: OpInsert}).encode(torn)
	_, err = f.WriteAt(torn, goodSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w = openWAL(t, path)
	assert.Equal(t, uint64(2), w.LastSeq())

	size, err := w.Size()
	require.NoError(t, err)
	assert.Equal(t, goodSize, size)

	seq, err := w.Append(OpInsert, testNode(9, 9))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)

	entries := collect(t, func(fn func(Entry) error) error { return w.Replay(0, fn) })
	assert.Len(t, entries, 3)
}

func TestWAL_PartialHeaderTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecmem.wal")

	w, err := Open(path)
	require.NoError(t, err)
	_, err = w.Append(OpInsert, testNode(1, 1))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x56, 0x4D, 0x57})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w = openWAL(t, path)
	assert.Equal(t, uint64(1), w.LastSeq())
	assert.Len(t, entryOffsets(t, path), 1)
}

func TestWAL_TruncateNeverReusesSequences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecmem.wal")

	w, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := w.Append(OpInsert, testNode(float32(i), 1))
		require.NoError(t, err)
	}

	require.NoError(t, w.Truncate())
	// The checkpoint entry takes sequence 4.
	assert.Equal(t, uint64(4), w.LastSeq())
	assert.Empty(t, collect(t, func(fn func(Entry) error) error { return w.Replay(0, fn) }))

	deltas := collect(t, func(fn func(Entry) error) error { return w.ReplayDeltas(0, fn) })
	require.Len(t, deltas, 1)
	assert.Equal(t, OpCheckpoint, deltas[0].Op)
	assert.Equal(t, uint64(3), deltas[0].Watermark)

	seq, err := w.Append(OpInsert, testNode(5, 5))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), seq)
	require.NoError(t, w.Close())

	w = openWAL(t, path)
	assert.Equal(t, uint64(5), w.LastSeq())

	var checkpoints int
	var watermark uint64
	require.NoError(t, w.Inspect(func(_ int64, e Entry, entryErr error) error {
		require.NoError(t, entryErr)
		if e.Op == OpCheckpoint {
			checkpoints++
			watermark = e.Watermark
		}
		return nil
	}))
	assert.Equal(t, 1, checkpoints)
	assert.Equal(t, uint64(3), watermark)
}

func TestWAL_TwoHandlesShareSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecmem.wal")
	a := openWAL(t, path)
	b := openWAL(t, path)

	seq, err := a.Append(OpInsert, testNode(1, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	nb := testNode(0, 1)
	seq, err = b.Append(OpInsert, nb)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	seq, err = a.AppendTouch(nb.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)

	// a sees b's insert through Sync.
	entries := collect(t, a.Sync)
	require.Len(t, entries, 2)
	assert.Equal(t, nb.ID, entries[1].ID)

	// Nothing new on the second call.
	assert.Empty(t, collect(t, a.Sync))

	deltas := collect(t, b.SyncDeltas)
	require.Len(t, deltas, 3)
	assert.Equal(t, FormatTouch, deltas[2].Format)
}

func TestWAL_SyncAfterForeignTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecmem.wal")
	a := openWAL(t, path)
	b := openWAL(t, path)

	for i := 0; i < 5; i++ {
		_, err := a.Append(OpInsert, testNode(float32(i), 1))
		require.NoError(t, err)
	}
	require.Len(t, collect(t, b.SyncDeltas), 5)

	require.NoError(t, a.Truncate())

	// Refill past b's old offset so only the head check can notice.
	var last *model.Node
	for i := 0; i < 8; i++ {
		last = testNode(float32(i), 2)
		_, err := a.Append(OpInsert, last)
		require.NoError(t, err)
	}

	// b restarts at the checkpoint that replaced what it had read.
	entries := collect(t, b.SyncDeltas)
	require.Len(t, entries, 9)
	assert.Equal(t, OpCheckpoint, entries[0].Op)
	assert.Equal(t, uint64(5), entries[0].Watermark)
	assert.Equal(t, last.ID, entries[8].ID)
	assert.Equal(t, uint64(14), entries[8].Seq)

	seq, err := b.AppendDelete(last.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), seq)
}

func TestWAL_Checkpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecmem.wal")
	a := openWAL(t, path)
	b := openWAL(t, path)

	_, err := a.Append(OpInsert, testNode(1, 0))
	require.NoError(t, err)
	_, err = b.Append(OpInsert, testNode(0, 1))
	require.NoError(t, err)

	var absorbed []uint64
	snapshotted := false
	require.NoError(t, a.Checkpoint(func(e Entry) error {
		absorbed = append(absorbed, e.Seq)
		return nil
	}, func(watermark uint64) error {
		snapshotted = true
		assert.Equal(t, uint64(2), watermark)
		return nil
	}))

	assert.Equal(t, []uint64{1, 2}, absorbed)
	assert.True(t, snapshotted)
	assert.Len(t, entryOffsets(t, path), 1)

	// A failing snapshot leaves the log untouched.
	_, err = b.Append(OpInsert, testNode(1, 1))
	require.NoError(t, err)
	boom := errors.New("boom")
	err = a.Checkpoint(func(Entry) error { return nil }, func(uint64) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Len(t, entryOffsets(t, path), 2)
}

func TestWAL_Closed(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "vecmem.wal"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	seq, err := w.AppendDelete(model.NewNodeID())
	assert.Zero(t, seq)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, w.Replay(0, func(Entry) error { return nil }), ErrClosed)
}
