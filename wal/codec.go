package wal

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/vecmem/internal/codec"
	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/quantization"
)

const (
	touchSize      = 24
	confidenceSize = 40
	edgeSize       = 40
	idSize         = 16
	watermarkSize  = 8
)

func vectorFormat(f Format) codec.VectorFormat {
	if f == FormatInt8 {
		return codec.VectorInt8
	}
	return codec.VectorFloat32
}

func encodeNode(n *model.Node, f Format, qc quantization.Codec) ([]byte, error) {
	if !f.IsFullNode() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, f)
	}
	return codec.AppendNodeWith(make([]byte, 0, codec.NodeSize(n, vectorFormat(f))), n, vectorFormat(f), qc)
}

func encodeID(id model.NodeID) []byte {
	b := make([]byte, idSize)
	id.PutBytes(b)
	return b
}

func encodeTouch(id model.NodeID, ts int64) []byte {
	b := make([]byte, touchSize)
	id.PutBytes(b)
	binary.LittleEndian.PutUint64(b[16:], uint64(ts)) //nolint:gosec // two's complement round trip
	return b
}

func encodeConfidence(id model.NodeID, c model.Confidence) []byte {
	b := make([]byte, confidenceSize)
	id.PutBytes(b)
	binary.LittleEndian.PutUint32(b[16:], math.Float32bits(c.Mu))
	binary.LittleEndian.PutUint32(b[20:], math.Float32bits(c.SigmaSq))
	binary.LittleEndian.PutUint32(b[24:], c.N)
	// b[28:32] reserved
	binary.LittleEndian.PutUint64(b[32:], uint64(c.UpdatedAt)) //nolint:gosec // two's complement round trip
	return b
}

func encodeEdge(from model.NodeID, e model.Edge) []byte {
	b := make([]byte, edgeSize)
	from.PutBytes(b)
	e.Target.PutBytes(b[16:])
	binary.LittleEndian.PutUint32(b[32:], math.Float32bits(e.Weight))
	b[36] = byte(e.Type)
	// b[37:40] padding
	return b
}

func encodeWatermark(seq uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, seq)
}

// decodePayload fills the payload-dependent fields of e.
func decodePayload(e *Entry, p []byte, qc quantization.Codec) error {
	switch {
	case e.Op == OpCheckpoint:
		if len(p) >= watermarkSize {
			e.Watermark = binary.LittleEndian.Uint64(p)
		}
		return nil
	case e.Op == OpDelete:
		if len(p) != idSize {
			return fmt.Errorf("delete payload is %d bytes", len(p))
		}
		e.ID = model.NodeIDFromBytes(p)
		return nil
	}

	switch e.Format {
	case FormatFloat32, FormatInt8:
		n, used, err := codec.DecodeNodeWith(p, vectorFormat(e.Format), qc)
		if err != nil {
			return err
		}
		if used != len(p) {
			return fmt.Errorf("%d trailing bytes after node", len(p)-used)
		}
		e.ID, e.Node = n.ID, n
	case FormatTouch:
		if len(p) != touchSize {
			return fmt.Errorf("touch payload is %d bytes", len(p))
		}
		e.ID = model.NodeIDFromBytes(p)
		e.AccessedAt = int64(binary.LittleEndian.Uint64(p[16:])) //nolint:gosec // two's complement round trip
	case FormatConfidence:
		if len(p) != confidenceSize {
			return fmt.Errorf("confidence payload is %d bytes", len(p))
		}
		e.ID = model.NodeIDFromBytes(p)
		e.Confidence = model.Confidence{
			Mu:        math.Float32frombits(binary.LittleEndian.Uint32(p[16:])),
			SigmaSq:   math.Float32frombits(binary.LittleEndian.Uint32(p[20:])),
			N:         binary.LittleEndian.Uint32(p[24:]),
			UpdatedAt: int64(binary.LittleEndian.Uint64(p[32:])), //nolint:gosec // two's complement round trip
		}
	case FormatEdge:
		if len(p) != edgeSize {
			return fmt.Errorf("edge payload is %d bytes", len(p))
		}
		e.ID = model.NodeIDFromBytes(p)
		e.Edge = model.Edge{
			Target: model.NodeIDFromBytes(p[16:]),
			Weight: math.Float32frombits(binary.LittleEndian.Uint32(p[32:])),
			Type:   model.EdgeType(p[36]),
		}
	default:
		return fmt.Errorf("unknown format %d", e.Format)
	}
	return nil
}
