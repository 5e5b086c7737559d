package wal

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/quantization"
)

// DurabilityMode defines the fsync behavior for WAL writes.
type DurabilityMode int

const (
	// DurabilityAsync represents asynchronous durability.
	// No fsync, fastest writes but risk of data loss on crash.
	DurabilityAsync DurabilityMode = iota

	// DurabilitySync represents synchronous durability.
	// fsync after every append, before the file lock is released.
	DurabilitySync
)

// Op is the mutation recorded by an entry.
type Op uint8

const (
	OpInsert     Op = 1
	OpUpdate     Op = 2
	OpDelete     Op = 3
	OpCheckpoint Op = 4
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Format identifies the payload encoding of an entry.
type Format uint8

const (
	// FormatFloat32 (V0) carries a complete node with a float32 vector.
	FormatFloat32 Format = 0
	// FormatInt8 (V1) carries a complete node with an int8-quantized vector.
	FormatInt8 Format = 1
	// FormatTouch (V2) carries an access timestamp.
	FormatTouch Format = 2
	// FormatConfidence (V3) carries the confidence fields.
	FormatConfidence Format = 3
	// FormatEdge (V4) carries one edge.
	FormatEdge Format = 4
)

// IsFullNode reports whether f carries a complete node.
func (f Format) IsFullNode() bool {
	return f == FormatFloat32 || f == FormatInt8
}

func (f Format) valid() bool {
	return f <= FormatEdge
}

func (f Format) String() string {
	if !f.valid() {
		return fmt.Sprintf("format(%d)", uint8(f))
	}
	return fmt.Sprintf("v%d", uint8(f))
}

// Entry is one decoded WAL record.
//
// Which fields are set depends on Op and Format: Node for full-node inserts
// and updates, AccessedAt for touches, Confidence for confidence updates and
// Edge for edge additions. ID is always set except for checkpoints.
type Entry struct {
	Seq       uint64
	Timestamp int64 // Unix ms at append time
	Op        Op
	Format    Format

	ID         model.NodeID
	Node       *model.Node
	AccessedAt int64
	Confidence model.Confidence
	Edge       model.Edge

	// Watermark is the last sequence absorbed before a checkpoint.
	Watermark uint64
}

// Options contains configuration for the WAL.
type Options struct {
	// DurabilityMode controls fsync behavior (Async, Sync).
	DurabilityMode DurabilityMode

	// NodeFormat selects the full-node encoding (FormatFloat32 or FormatInt8).
	NodeFormat Format

	// Quantizer encodes FormatInt8 vectors. Defaults to quantization.Int8.
	Quantizer quantization.Codec

	// MaxEntrySize is the largest total entry length accepted while scanning.
	// Larger lengths are treated as corruption.
	MaxEntrySize uint32

	// Logger receives corruption and recovery diagnostics.
	Logger *slog.Logger
}

// DefaultOptions returns default WAL options.
var DefaultOptions = Options{
	DurabilityMode: DurabilitySync,
	NodeFormat:     FormatFloat32,
	MaxEntrySize:   100 << 20,
}

var (
	// ErrClosed is returned when operating on a closed WAL.
	ErrClosed = errors.New("wal: closed")
	// ErrChecksum is reported for an entry whose payload does not match its checksum.
	ErrChecksum = errors.New("wal: checksum mismatch")
	// ErrCorrupted is returned when a scan hits an entry it cannot frame
	// (bad magic, impossible length or unknown format). Nothing after that
	// point can be read.
	ErrCorrupted = errors.New("wal: corrupted")
	// ErrInvalidFormat is returned when appending a node with a delta format.
	ErrInvalidFormat = errors.New("wal: invalid node format")
)

// CorruptionError describes where a scan stopped.
type CorruptionError struct {
	Offset int64
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wal: corrupted at offset %d: %s", e.Offset, e.Reason)
}

// Unwrap makes errors.Is(err, ErrCorrupted) hold.
func (e *CorruptionError) Unwrap() error {
	return ErrCorrupted
}
