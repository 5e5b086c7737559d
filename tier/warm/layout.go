package warm

import (
	"encoding/binary"
	"math"

	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/quantization"
)

const (
	// Magic identifies a warm tier file ("VMWT").
	Magic uint32 = 0x54574D56
	// Version is the file layout version.
	Version uint32 = 1

	headerSize = 64
	metaStride = 80

	flagLive = 1
)

type fileHeader struct {
	Magic      uint32
	Version    uint32
	Dimension  uint32
	Capacity   uint32
	Used       uint32
	MetaOffset uint64
	VecOffset  uint64
	ExtrasSize uint64
}

func (h *fileHeader) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], h.Magic)
	binary.LittleEndian.PutUint32(b[4:], h.Version)
	binary.LittleEndian.PutUint32(b[8:], h.Dimension)
	binary.LittleEndian.PutUint32(b[12:], h.Capacity)
	binary.LittleEndian.PutUint32(b[16:], h.Used)
	// b[20:24] reserved
	binary.LittleEndian.PutUint64(b[24:], h.MetaOffset)
	binary.LittleEndian.PutUint64(b[32:], h.VecOffset)
	binary.LittleEndian.PutUint64(b[40:], h.ExtrasSize)
}

func decodeFileHeader(b []byte) fileHeader {
	return fileHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:]),
		Version:    binary.LittleEndian.Uint32(b[4:]),
		Dimension:  binary.LittleEndian.Uint32(b[8:]),
		Capacity:   binary.LittleEndian.Uint32(b[12:]),
		Used:       binary.LittleEndian.Uint32(b[16:]),
		MetaOffset: binary.LittleEndian.Uint64(b[24:]),
		VecOffset:  binary.LittleEndian.Uint64(b[32:]),
		ExtrasSize: binary.LittleEndian.Uint64(b[40:]),
	}
}

// vectorStride is the 8-byte aligned size of one quantized vector.
func vectorStride(dim int) int {
	return (quantization.EncodedSize(dim) + 7) &^ 7
}

func fileSize(dim, capacity int) int {
	return headerSize + capacity*(metaStride+vectorStride(dim))
}

// meta record layout:
//
//	0  id 16
//	16 flags u8 · type u8 · pad 2
//	20 decay f32
//	24 created i64
//	32 accessed i64
//	40 mu f32 · sigma_sq f32 · n u32 · pad u32
//	56 confidence updated i64
//	64 extras offset u64
//	72 extras length u32 · extras crc u32
type metaRecord struct {
	ID         model.NodeID
	Flags      uint8
	Type       model.NodeType
	DecayRate  float32
	CreatedAt  int64
	AccessedAt int64
	Confidence model.Confidence
	ExtrasOff  uint64
	ExtrasLen  uint32
	ExtrasCRC  uint32
}

func (m *metaRecord) encode(b []byte) {
	_ = b[metaStride-1]
	m.ID.PutBytes(b[0:16])
	b[16] = m.Flags
	b[17] = byte(m.Type)
	b[18], b[19] = 0, 0
	binary.LittleEndian.PutUint32(b[20:], math.Float32bits(m.DecayRate))
	binary.LittleEndian.PutUint64(b[24:], uint64(m.CreatedAt))  //nolint:gosec // two's complement round trip
	binary.LittleEndian.PutUint64(b[32:], uint64(m.AccessedAt)) //nolint:gosec // two's complement round trip
	putConfidence(b, m.Confidence)
	binary.LittleEndian.PutUint64(b[64:], m.ExtrasOff)
	binary.LittleEndian.PutUint32(b[72:], m.ExtrasLen)
	binary.LittleEndian.PutUint32(b[76:], m.ExtrasCRC)
}

func decodeMeta(b []byte) metaRecord {
	_ = b[metaStride-1]
	return metaRecord{
		ID:         model.NodeIDFromBytes(b[0:16]),
		Flags:      b[16],
		Type:       model.NodeType(b[17]),
		DecayRate:  math.Float32frombits(binary.LittleEndian.Uint32(b[20:])),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[24:])), //nolint:gosec // two's complement round trip
		AccessedAt: int64(binary.LittleEndian.Uint64(b[32:])), //nolint:gosec // two's complement round trip
		Confidence: model.Confidence{
			Mu:        math.Float32frombits(binary.LittleEndian.Uint32(b[40:])),
			SigmaSq:   math.Float32frombits(binary.LittleEndian.Uint32(b[44:])),
			N:         binary.LittleEndian.Uint32(b[48:]),
			UpdatedAt: int64(binary.LittleEndian.Uint64(b[56:])), //nolint:gosec // two's complement round trip
		},
		ExtrasOff: binary.LittleEndian.Uint64(b[64:]),
		ExtrasLen: binary.LittleEndian.Uint32(b[72:]),
		ExtrasCRC: binary.LittleEndian.Uint32(b[76:]),
	}
}

func putAccessed(b []byte, ts int64) {
	binary.LittleEndian.PutUint64(b[32:], uint64(ts)) //nolint:gosec // two's complement round trip
}

func putConfidence(b []byte, c model.Confidence) {
	binary.LittleEndian.PutUint32(b[40:], math.Float32bits(c.Mu))
	binary.LittleEndian.PutUint32(b[44:], math.Float32bits(c.SigmaSq))
	binary.LittleEndian.PutUint32(b[48:], c.N)
	binary.LittleEndian.PutUint32(b[52:], 0)
	binary.LittleEndian.PutUint64(b[56:], uint64(c.UpdatedAt)) //nolint:gosec // two's complement round trip
}
