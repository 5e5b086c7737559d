// Package wal provides the write-ahead log shared by every process that opens
// the same store directory.
//
// Each entry is a 32-byte header followed by a checksummed payload. Appends
// take an exclusive advisory lock on the log file, first catch up with entries
// other processes appended (so sequence numbers stay globally monotonic),
// write at end of file and fsync before releasing the lock. Readers take a
// shared lock. Replay scans from the start of the file; Sync resumes from the
// offset where the previous Sync stopped, which makes polling cheap.
//
// An entry that cannot be framed makes everything after it unreadable. Once
// a handle meets one, its appends fail with a *CorruptionError until the log
// is truncated; Checkpoint absorbs the readable prefix and discards the rest.
//
// Truncate rewrites the file as a single checkpoint entry so the sequence
// counter survives truncation and restarts. Every handle remembers the
// sequence of the entry at offset 0; when it changes, or the file is shorter
// than a remembered offset, the log was truncated and the handle starts over.
//
// Callbacks passed to Replay, Sync and Checkpoint run while the WAL is
// locked and must not call back into the WAL.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/hupe1980/vecmem/internal/flock"
	"github.com/hupe1980/vecmem/internal/hash"
	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/quantization"
)

// WAL provides write-ahead logging for durability and cross-process visibility.
type WAL struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	opts   Options
	logger *slog.Logger

	lastSeq    uint64 // highest sequence observed in the file
	scanOffset int64  // end of the last entry framed by catch-up

	// headSeq is the sequence of the entry at offset 0. It changes only when
	// the file is truncated, which invalidates every remembered offset.
	headSeq uint64

	// Resume offsets for Sync (full nodes) and SyncDeltas (all formats).
	syncOffset      int64
	syncDeltaOffset int64

	// corrupt is the first unframeable entry met by catch-up.
	corrupt *CorruptionError
}

// Open opens or creates the WAL file at path and recovers the highest
// sequence number. A torn entry at the end of the file is cut off.
func Open(path string, optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if !opts.NodeFormat.IsFullNode() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, opts.NodeFormat)
	}
	if opts.Quantizer == nil {
		opts.Quantizer = quantization.Int8{}
	}
	if opts.MaxEntrySize < HeaderSize {
		opts.MaxEntrySize = DefaultOptions.MaxEntrySize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // G304: path is configurable
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &WAL{
		file:   file,
		path:   path,
		opts:   opts,
		logger: logger.With("component", "wal", "path", path),
	}

	if err := flock.Lock(file); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to lock WAL: %w", err)
	}
	err = w.catchUpLocked()
	_ = flock.Unlock(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to scan WAL: %w", err)
	}

	return w, nil
}

// Path returns the path to the WAL file.
func (w *WAL) Path() string {
	return w.path
}

// LastSeq returns the highest sequence number this handle has observed.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// Size returns the current size of the WAL file in bytes.
func (w *WAL) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, ErrClosed
	}
	return w.sizeLocked()
}

func (w *WAL) sizeLocked() (int64, error) {
	st, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Append logs a complete node under op (OpInsert or OpUpdate) using the
// configured node format.
func (w *WAL) Append(op Op, n *model.Node) (uint64, error) {
	payload, err := encodeNode(n, w.opts.NodeFormat, w.opts.Quantizer)
	if err != nil {
		return 0, err
	}
	return w.append(op, w.opts.NodeFormat, payload)
}

// AppendTouch logs a new access timestamp for id.
func (w *WAL) AppendTouch(id model.NodeID, accessedAt int64) (uint64, error) {
	return w.append(OpUpdate, FormatTouch, encodeTouch(id, accessedAt))
}

// AppendConfidence logs new confidence fields for id.
func (w *WAL) AppendConfidence(id model.NodeID, c model.Confidence) (uint64, error) {
	return w.append(OpUpdate, FormatConfidence, encodeConfidence(id, c))
}

// AppendEdge logs one edge added to from.
func (w *WAL) AppendEdge(from model.NodeID, e model.Edge) (uint64, error) {
	return w.append(OpUpdate, FormatEdge, encodeEdge(from, e))
}

// AppendDelete logs the removal of id.
func (w *WAL) AppendDelete(id model.NodeID) (uint64, error) {
	return w.append(OpDelete, FormatFloat32, encodeID(id))
}

func (w *WAL) append(op Op, format Format, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, ErrClosed
	}

	if err := flock.Lock(w.file); err != nil {
		return 0, fmt.Errorf("failed to lock WAL: %w", err)
	}
	defer func() { _ = flock.Unlock(w.file) }()

	if err := w.catchUpLocked(); err != nil {
		return 0, err
	}
	if w.corrupt != nil {
		// Nothing written past the damage could be read back.
		return 0, w.corrupt
	}

	seq, err := w.writeEntryLocked(op, format, payload)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// writeEntryLocked appends one entry at end of file. Caller holds w.mu and
// the exclusive file lock, and has caught up.
func (w *WAL) writeEntryLocked(op Op, format Format, payload []byte) (uint64, error) {
	total := HeaderSize + len(payload)
	if uint64(total) > uint64(w.opts.MaxEntrySize) {
		return 0, fmt.Errorf("wal: entry of %d bytes exceeds limit %d", total, w.opts.MaxEntrySize)
	}

	seq := w.lastSeq + 1
	h := header{
		Magic:     Magic,
		Length:    uint32(total), //nolint:gosec // bounded by MaxEntrySize
		Seq:       seq,
		Timestamp: model.NowMillis(),
		Op:        op,
		Format:    format,
		Checksum:  hash.CRC32C(payload),
	}

	buf := make([]byte, total)
	h.encode(buf)
	copy(buf[HeaderSize:], payload)

	off, err := w.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}

	if _, err := w.file.WriteAt(buf, off); err != nil {
		w.rollbackLocked(off)
		return 0, fmt.Errorf("failed to write WAL entry: %w", err)
	}

	if w.opts.DurabilityMode == DurabilitySync {
		if err := w.file.Sync(); err != nil {
			w.rollbackLocked(off)
			return 0, fmt.Errorf("failed to sync WAL: %w", err)
		}
	}

	w.lastSeq = seq
	w.scanOffset = off + int64(total)
	if off == 0 {
		w.headSeq = seq
	}
	return seq, nil
}

// detectTruncationLocked resets all remembered offsets when the file has
// been truncated by any handle since this one last looked at it.
func (w *WAL) detectTruncationLocked(size int64) error {
	var head uint64
	if size >= HeaderSize {
		var hbuf [HeaderSize]byte
		if _, err := w.file.ReadAt(hbuf[:], 0); err != nil {
			return err
		}
		if h := decodeHeader(hbuf[:]); h.Magic == Magic {
			head = h.Seq
		}
	}

	if head != w.headSeq || size < w.scanOffset || size < w.syncOffset || size < w.syncDeltaOffset {
		if w.scanOffset > 0 || w.syncOffset > 0 || w.syncDeltaOffset > 0 {
			w.logger.Debug("WAL was truncated; restarting from the beginning", "size", size)
		}
		w.headSeq = head
		w.corrupt = nil
		w.scanOffset = 0
		w.syncOffset = 0
		w.syncDeltaOffset = 0
	}
	return nil
}

// rollbackLocked cuts a failed append off so no reader sees half an entry.
func (w *WAL) rollbackLocked(off int64) {
	if err := w.file.Truncate(off); err != nil {
		w.logger.Error("failed to roll back partial WAL entry", "offset", off, "error", err)
	}
}

// catchUpLocked frames entries from scanOffset to end of file, advancing
// lastSeq past sequences written by other handles. A partial trailing entry
// is truncated away. Caller holds w.mu and the exclusive file lock.
func (w *WAL) catchUpLocked() error {
	st, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := st.Size()

	if err := w.detectTruncationLocked(size); err != nil {
		return err
	}

	off := w.scanOffset
	r := bufio.NewReaderSize(io.NewSectionReader(w.file, off, size-off), 64<<10)
	var hbuf [HeaderSize]byte

	for off < size {
		if size-off < HeaderSize {
			return w.cutTornTailLocked(off, size)
		}
		if _, err := io.ReadFull(r, hbuf[:]); err != nil {
			return err
		}
		h := decodeHeader(hbuf[:])

		if reason := w.frameError(h); reason != "" {
			if w.corrupt == nil {
				w.logger.Error("WAL corrupted; appends are refused until the next checkpoint",
					"offset", off, "reason", reason)
			}
			w.corrupt = &CorruptionError{Offset: off, Reason: reason}
			w.scanOffset = size
			return nil
		}
		if off+int64(h.Length) > size {
			return w.cutTornTailLocked(off, size)
		}

		if _, err := r.Discard(int(h.Length) - HeaderSize); err != nil {
			return err
		}
		if h.Seq > w.lastSeq {
			w.lastSeq = h.Seq
		}
		off += int64(h.Length)
	}

	w.scanOffset = off
	return nil
}

func (w *WAL) cutTornTailLocked(off, size int64) error {
	w.logger.Warn("truncating torn WAL tail", "offset", off, "bytes", size-off)
	if err := w.file.Truncate(off); err != nil {
		return fmt.Errorf("failed to truncate torn WAL tail: %w", err)
	}
	if w.opts.DurabilityMode == DurabilitySync {
		if err := w.file.Sync(); err != nil {
			return err
		}
	}
	w.scanOffset = off
	return nil
}

// frameError returns a non-empty reason when h cannot be trusted to locate
// the next entry.
func (w *WAL) frameError(h header) string {
	switch {
	case h.Magic != Magic:
		return fmt.Sprintf("bad magic %#x", h.Magic)
	case h.Length < HeaderSize:
		return fmt.Sprintf("length %d below header size", h.Length)
	case h.Length > w.opts.MaxEntrySize:
		return fmt.Sprintf("length %d above limit %d", h.Length, w.opts.MaxEntrySize)
	case !h.Format.valid():
		return fmt.Sprintf("unknown format %d", h.Format)
	}
	return ""
}

// Truncate resets the log to a single checkpoint entry. The caller must have
// durably captured everything the log contained.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}

	if err := flock.Lock(w.file); err != nil {
		return fmt.Errorf("failed to lock WAL: %w", err)
	}
	defer func() { _ = flock.Unlock(w.file) }()

	if err := w.catchUpLocked(); err != nil {
		return err
	}
	return w.truncateLocked()
}

// Checkpoint delivers every entry this handle has not yet seen to apply,
// calls snapshot with the last sequence in the log and, if both succeed,
// truncates the log. The whole sequence runs under the exclusive lock so no
// entry can be appended in between and lost. snapshot must not call back
// into the WAL.
//
// When the scan stops at an entry it cannot frame, the entries before it are
// absorbed and the unreadable rest of the file is discarded by the
// truncation.
func (w *WAL) Checkpoint(apply func(Entry) error, snapshot func(watermark uint64) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}

	if err := flock.Lock(w.file); err != nil {
		return fmt.Errorf("failed to lock WAL: %w", err)
	}
	defer func() { _ = flock.Unlock(w.file) }()

	if err := w.catchUpLocked(); err != nil {
		return err
	}

	end, err := w.scanLocked(w.syncDeltaOffset, 0, true, apply)
	var cerr *CorruptionError
	switch {
	case errors.As(err, &cerr):
		size, _ := w.sizeLocked()
		w.logger.Error("checkpoint discards unreadable WAL region",
			"offset", cerr.Offset,
			"bytes", size-cerr.Offset,
			"reason", cerr.Reason,
		)
	case err != nil:
		return err
	}
	w.syncDeltaOffset = end

	if err := snapshot(w.lastSeq); err != nil {
		return fmt.Errorf("checkpoint snapshot failed: %w", err)
	}
	return w.truncateLocked()
}

func (w *WAL) truncateLocked() error {
	watermark := w.lastSeq

	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	w.scanOffset = 0
	w.headSeq = 0
	w.corrupt = nil

	if _, err := w.writeEntryLocked(OpCheckpoint, FormatFloat32, encodeWatermark(watermark)); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if w.opts.DurabilityMode != DurabilitySync {
		if err := w.file.Sync(); err != nil {
			return err
		}
	}

	w.syncOffset = w.scanOffset
	w.syncDeltaOffset = w.scanOffset
	w.logger.Info("WAL truncated", "watermark", watermark, "next_seq", w.lastSeq+1)
	return nil
}

// Flush fsyncs the log file. Only needed with DurabilityAsync.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}
	return w.file.Sync()
}

// Close closes the WAL file. It is idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	var syncErr error
	if w.opts.DurabilityMode != DurabilitySync {
		syncErr = w.file.Sync()
	}
	err := w.file.Close()
	w.file = nil
	return errors.Join(syncErr, err)
}
