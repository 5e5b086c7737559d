package wal

import (
	"encoding/binary"
)

const (
	// Magic starts every entry ("VMWL" little endian).
	Magic uint32 = 0x4C574D56

	// HeaderSize is the fixed size of an entry header.
	HeaderSize = 32
)

// header layout:
//
//	0  magic     u32
//	4  length    u32 (header + payload)
//	8  seq       u64
//	16 timestamp u64 (Unix ms)
//	24 op        u8
//	25 format    u8
//	26 reserved  2 bytes
//	28 crc32c    u32 over the payload
type header struct {
	Magic     uint32
	Length    uint32
	Seq       uint64
	Timestamp int64
	Op        Op
	Format    Format
	Checksum  uint32
}

func (h *header) encode(b []byte) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint32(b[0:], h.Magic)
	binary.LittleEndian.PutUint32(b[4:], h.Length)
	binary.LittleEndian.PutUint64(b[8:], h.Seq)
	binary.LittleEndian.PutUint64(b[16:], uint64(h.Timestamp)) //nolint:gosec // two's complement round trip
	b[24] = byte(h.Op)
	b[25] = byte(h.Format)
	b[26], b[27] = 0, 0
	binary.LittleEndian.PutUint32(b[28:], h.Checksum)
}

func decodeHeader(b []byte) header {
	_ = b[HeaderSize-1]
	return header{
		Magic:     binary.LittleEndian.Uint32(b[0:]),
		Length:    binary.LittleEndian.Uint32(b[4:]),
		Seq:       binary.LittleEndian.Uint64(b[8:]),
		Timestamp: int64(binary.LittleEndian.Uint64(b[16:])), //nolint:gosec // two's complement round trip
		Op:        Op(b[24]),
		Format:    Format(b[25]),
		Checksum:  binary.LittleEndian.Uint32(b[28:]),
	}
}
