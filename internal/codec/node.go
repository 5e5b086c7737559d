package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/quantization"
)

// Decode caps. Counts above these are treated as corruption rather than
// trusted as allocation sizes.
const (
	MaxPayloadSize = 64 << 20
	MaxEdges       = 1 << 20
	MaxTags        = 64 << 10
	MaxTagLen      = math.MaxUint16
	MaxDimension   = 1 << 16
)

// VectorFormat selects how a record's vector is stored.
type VectorFormat uint8

const (
	VectorFloat32 VectorFormat = iota
	VectorInt8
)

const (
	fixedSize = 16 + 1 + 8 + 8 + 4 + 4 + 4 + 4 + 8 + 4
	edgeSize  = 16 + 1 + 4
)

var (
	// ErrShortBuffer is returned when a record is cut off.
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrLimitExceeded is returned when a decoded count exceeds its cap.
	ErrLimitExceeded = errors.New("codec: limit exceeded")
)

// NodeSize returns the encoded size of n.
func NodeSize(n *model.Node, vf VectorFormat) int {
	size := fixedSize
	if vf == VectorInt8 {
		size += quantization.EncodedSize(len(n.Vector))
	} else {
		size += 4 * len(n.Vector)
	}
	return size + ExtrasSize(n)
}

// ExtrasSize returns the encoded size of n's payload, edges and tags.
func ExtrasSize(n *model.Node) int {
	size := 4 + len(n.Payload) + 4 + edgeSize*len(n.Edges) + 4
	for _, t := range n.Tags {
		size += 2 + len(t)
	}
	return size
}

// AppendNode appends the encoded record of n to dst. Int8 vectors are
// quantized with quantization.Int8.
func AppendNode(dst []byte, n *model.Node, vf VectorFormat) ([]byte, error) {
	return AppendNodeWith(dst, n, vf, quantization.Int8{})
}

// AppendNodeWith is AppendNode with the quantizer used for int8 vectors.
func AppendNodeWith(dst []byte, n *model.Node, vf VectorFormat, qc quantization.Codec) ([]byte, error) {
	if err := validate(n); err != nil {
		return dst, err
	}

	dst = appendID(dst, n.ID)
	dst = append(dst, byte(n.Type))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(n.CreatedAt))  //nolint:gosec // two's complement round trip
	dst = binary.LittleEndian.AppendUint64(dst, uint64(n.AccessedAt)) //nolint:gosec // two's complement round trip
	dst = appendFloat32(dst, n.DecayRate)
	dst = appendFloat32(dst, n.Confidence.Mu)
	dst = appendFloat32(dst, n.Confidence.SigmaSq)
	dst = binary.LittleEndian.AppendUint32(dst, n.Confidence.N)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(n.Confidence.UpdatedAt)) //nolint:gosec // two's complement round trip
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(n.Vector)))          //nolint:gosec // validated

	switch vf {
	case VectorInt8:
		q := qc.FromFloat(n.Vector)
		start := len(dst)
		dst = append(dst, make([]byte, quantization.EncodedSize(len(n.Vector)))...)
		q.PutBinary(dst[start:])
	default:
		for _, x := range n.Vector {
			dst = appendFloat32(dst, x)
		}
	}

	return appendExtras(dst, n), nil
}

// AppendExtras appends only the payload, edges and tags of n.
func AppendExtras(dst []byte, n *model.Node) ([]byte, error) {
	if err := validate(n); err != nil {
		return dst, err
	}
	return appendExtras(dst, n), nil
}

func appendExtras(dst []byte, n *model.Node) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(n.Payload))) //nolint:gosec // validated
	dst = append(dst, n.Payload...)

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(n.Edges))) //nolint:gosec // validated
	for _, e := range n.Edges {
		dst = appendID(dst, e.Target)
		dst = append(dst, byte(e.Type))
		dst = appendFloat32(dst, e.Weight)
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(n.Tags))) //nolint:gosec // validated
	for _, t := range n.Tags {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(len(t))) //nolint:gosec // validated
		dst = append(dst, t...)
	}
	return dst
}

func validate(n *model.Node) error {
	switch {
	case len(n.Vector) > MaxDimension:
		return fmt.Errorf("%w: dimension %d", ErrLimitExceeded, len(n.Vector))
	case len(n.Payload) > MaxPayloadSize:
		return fmt.Errorf("%w: payload %d bytes", ErrLimitExceeded, len(n.Payload))
	case len(n.Edges) > MaxEdges:
		return fmt.Errorf("%w: %d edges", ErrLimitExceeded, len(n.Edges))
	case len(n.Tags) > MaxTags:
		return fmt.Errorf("%w: %d tags", ErrLimitExceeded, len(n.Tags))
	}
	for _, t := range n.Tags {
		if len(t) > MaxTagLen {
			return fmt.Errorf("%w: tag length %d", ErrLimitExceeded, len(t))
		}
	}
	return nil
}

// DecodeNode decodes one record from the start of b and returns it together
// with the number of bytes consumed.
func DecodeNode(b []byte, vf VectorFormat) (*model.Node, int, error) {
	return DecodeNodeWith(b, vf, quantization.Int8{})
}

// DecodeNodeWith is DecodeNode with the quantizer used for int8 vectors.
func DecodeNodeWith(b []byte, vf VectorFormat, qc quantization.Codec) (*model.Node, int, error) {
	r := reader{buf: b}

	n := &model.Node{}
	n.ID = r.id()
	n.Type = model.NodeType(r.u8())
	n.CreatedAt = int64(r.u64())  //nolint:gosec // two's complement round trip
	n.AccessedAt = int64(r.u64()) //nolint:gosec // two's complement round trip
	n.DecayRate = r.f32()
	n.Confidence.Mu = r.f32()
	n.Confidence.SigmaSq = r.f32()
	n.Confidence.N = r.u32()
	n.Confidence.UpdatedAt = int64(r.u64()) //nolint:gosec // two's complement round trip

	dim := int(r.u32())
	if r.err == nil && dim > MaxDimension {
		return nil, 0, fmt.Errorf("%w: dimension %d", ErrLimitExceeded, dim)
	}

	switch vf {
	case VectorInt8:
		raw := r.bytes(quantization.EncodedSize(dim))
		if r.err == nil {
			q, err := quantization.Decode(raw, dim)
			if err != nil {
				return nil, 0, err
			}
			n.Vector = qc.ToFloat(q)
		}
	default:
		raw := r.bytes(4 * dim)
		if r.err == nil {
			n.Vector = make([]float32, dim)
			for i := range n.Vector {
				n.Vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
			}
		}
	}

	r.extras(n)
	if r.err != nil {
		return nil, 0, r.err
	}
	return n, r.off, nil
}

// DecodeExtras decodes a block written by AppendExtras into n.
func DecodeExtras(b []byte, n *model.Node) (int, error) {
	r := reader{buf: b}
	r.extras(n)
	if r.err != nil {
		return 0, r.err
	}
	return r.off, nil
}

func appendID(dst []byte, id model.NodeID) []byte {
	var b [16]byte
	id.PutBytes(b[:])
	return append(dst, b[:]...)
}

func appendFloat32(dst []byte, f float32) []byte {
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
}

// reader is a sticky-error cursor over a record.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.bytes(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.bytes(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.bytes(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.bytes(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *reader) id() model.NodeID {
	if b := r.bytes(16); b != nil {
		return model.NodeIDFromBytes(b)
	}
	return model.NodeID{}
}

func (r *reader) limit(count uint32, maxCount int, what string) int {
	if r.err == nil && int(count) > maxCount {
		r.err = fmt.Errorf("%w: %d %s", ErrLimitExceeded, count, what)
		return 0
	}
	return int(count)
}

func (r *reader) extras(n *model.Node) {
	payloadLen := r.limit(r.u32(), MaxPayloadSize, "payload bytes")
	if payload := r.bytes(payloadLen); payloadLen > 0 && payload != nil {
		n.Payload = append([]byte(nil), payload...)
	}

	edgeCount := r.limit(r.u32(), MaxEdges, "edges")
	if r.err == nil && edgeCount > 0 {
		if len(r.buf)-r.off < edgeCount*edgeSize {
			r.err = ErrShortBuffer
			return
		}
		n.Edges = make([]model.Edge, edgeCount)
		for i := range n.Edges {
			n.Edges[i] = model.Edge{Target: r.id(), Type: model.EdgeType(r.u8()), Weight: r.f32()}
		}
	}

	tagCount := r.limit(r.u32(), MaxTags, "tags")
	if r.err == nil && tagCount > 0 {
		n.Tags = make([]string, 0, tagCount)
		for i := 0; i < tagCount && r.err == nil; i++ {
			l := int(r.u16())
			if b := r.bytes(l); b != nil || l == 0 {
				n.Tags = append(n.Tags, string(b))
			}
		}
	}
}
