package wal

import (
	"bufio"
	"fmt"
	"io"

	"github.com/hupe1980/vecmem/internal/flock"
	"github.com/hupe1980/vecmem/internal/hash"
)

// Replay scans the whole log and calls fn for every full-node and delete
// entry with a sequence greater than since. Delta entries and checkpoints are
// not delivered.
//
// Entries failing their checksum are skipped. If the scan hits an entry it
// cannot frame, entries before it are delivered and a *CorruptionError is
// returned. A complete replay positions the matching Sync variant after the
// last entry.
func (w *WAL) Replay(since uint64, fn func(Entry) error) error {
	return w.replay(since, false, fn)
}

// ReplayDeltas is like Replay but also delivers touch, confidence and edge
// entries, and checkpoints. A checkpoint tells the reader that every entry
// up to its Watermark was absorbed into a snapshot and removed from the log.
func (w *WAL) ReplayDeltas(since uint64, fn func(Entry) error) error {
	return w.replay(since, true, fn)
}

func (w *WAL) replay(since uint64, deltas bool, fn func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}

	if err := flock.RLock(w.file); err != nil {
		return fmt.Errorf("failed to lock WAL: %w", err)
	}
	defer func() { _ = flock.Unlock(w.file) }()

	st, err := w.file.Stat()
	if err != nil {
		return err
	}
	if err := w.detectTruncationLocked(st.Size()); err != nil {
		return err
	}

	end, err := w.scanLocked(0, since, deltas, fn)
	if err != nil {
		return err
	}
	if deltas {
		w.syncDeltaOffset = end
	} else {
		w.syncOffset = end
	}
	return nil
}

// Sync delivers full-node and delete entries appended since the previous
// Sync on this handle.
func (w *WAL) Sync(fn func(Entry) error) error {
	return w.sync(false, fn)
}

// SyncDeltas delivers entries of every format, checkpoints included,
// appended since the previous SyncDeltas on this handle.
func (w *WAL) SyncDeltas(fn func(Entry) error) error {
	return w.sync(true, fn)
}

func (w *WAL) sync(deltas bool, fn func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}

	if err := flock.RLock(w.file); err != nil {
		return fmt.Errorf("failed to lock WAL: %w", err)
	}
	defer func() { _ = flock.Unlock(w.file) }()

	st, err := w.file.Stat()
	if err != nil {
		return err
	}
	if err := w.detectTruncationLocked(st.Size()); err != nil {
		return err
	}

	cursor := &w.syncOffset
	if deltas {
		cursor = &w.syncDeltaOffset
	}

	end, err := w.scanLocked(*cursor, 0, deltas, fn)
	*cursor = end
	return err
}

// scanLocked reads entries starting at from and returns the offset just past
// the last entry it consumed. Caller holds w.mu and a file lock.
func (w *WAL) scanLocked(from int64, since uint64, deltas bool, fn func(Entry) error) (int64, error) {
	st, err := w.file.Stat()
	if err != nil {
		return from, err
	}
	size := st.Size()

	if from > size {
		from = 0
	}

	off := from
	r := bufio.NewReaderSize(io.NewSectionReader(w.file, off, size-off), 64<<10)
	var hbuf [HeaderSize]byte
	var payload []byte

	for {
		if size-off < HeaderSize {
			// Clean end, or an entry still being written.
			return off, nil
		}
		if _, err := io.ReadFull(r, hbuf[:]); err != nil {
			return off, err
		}
		h := decodeHeader(hbuf[:])

		if reason := w.frameError(h); reason != "" {
			w.logger.Error("WAL scan aborted on corrupted entry", "offset", off, "reason", reason)
			return off, &CorruptionError{Offset: off, Reason: reason}
		}
		if off+int64(h.Length) > size {
			return off, nil
		}

		n := int(h.Length) - HeaderSize
		if cap(payload) < n {
			payload = make([]byte, n)
		}
		payload = payload[:n]
		if _, err := io.ReadFull(r, payload); err != nil {
			return off, err
		}

		next := off + int64(h.Length)

		if hash.CRC32C(payload) != h.Checksum {
			w.logger.Warn("skipping WAL entry", "offset", off, "seq", h.Seq, "error", ErrChecksum)
			off = next
			continue
		}

		if h.Seq <= since || (!deltas && (h.Op == OpCheckpoint || !h.Format.IsFullNode())) {
			off = next
			continue
		}

		e := Entry{Seq: h.Seq, Timestamp: h.Timestamp, Op: h.Op, Format: h.Format}
		if err := decodePayload(&e, payload, w.opts.Quantizer); err != nil {
			w.logger.Warn("skipping undecodable WAL entry", "offset", off, "seq", h.Seq, "error", err)
			off = next
			continue
		}

		if err := fn(e); err != nil {
			return off, fmt.Errorf("failed to apply WAL entry %d: %w", h.Seq, err)
		}
		off = next
	}
}

// Inspect calls fn for every entry in the log, checkpoints and entries with
// bad checksums included, without touching Sync offsets. entryErr is nil when
// the payload matched its checksum and decoded.
func (w *WAL) Inspect(fn func(offset int64, e Entry, entryErr error) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}

	if err := flock.RLock(w.file); err != nil {
		return fmt.Errorf("failed to lock WAL: %w", err)
	}
	defer func() { _ = flock.Unlock(w.file) }()

	st, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := st.Size()

	r := bufio.NewReaderSize(io.NewSectionReader(w.file, 0, size), 64<<10)
	var hbuf [HeaderSize]byte

	for off := int64(0); size-off >= HeaderSize; {
		if _, err := io.ReadFull(r, hbuf[:]); err != nil {
			return err
		}
		h := decodeHeader(hbuf[:])
		if reason := w.frameError(h); reason != "" {
			return &CorruptionError{Offset: off, Reason: reason}
		}
		if off+int64(h.Length) > size {
			return &CorruptionError{Offset: off, Reason: "torn trailing entry"}
		}

		payload := make([]byte, int(h.Length)-HeaderSize)
		if _, err := io.ReadFull(r, payload); err != nil {
			return err
		}

		e := Entry{Seq: h.Seq, Timestamp: h.Timestamp, Op: h.Op, Format: h.Format}
		var entryErr error
		if hash.CRC32C(payload) != h.Checksum {
			entryErr = ErrChecksum
		} else if err := decodePayload(&e, payload, w.opts.Quantizer); err != nil {
			entryErr = err
		}

		if err := fn(off, e, entryErr); err != nil {
			return err
		}
		off += int64(h.Length)
	}
	return nil
}
