package hash

import (
	"encoding/binary"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// AppendCRC32C appends the little-endian checksum of b to b. It seals the
// trailer of snapshot and blob formats.
func AppendCRC32C(b []byte) []byte {
	return binary.LittleEndian.AppendUint32(b, CRC32C(b))
}
