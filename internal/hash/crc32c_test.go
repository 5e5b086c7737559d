package hash

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Standard check value for CRC-32C.
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))
	assert.Equal(t, uint32(0), CRC32C(nil))
}

func TestAppendCRC32C(t *testing.T) {
	body := []byte("123456789")
	sealed := AppendCRC32C(append([]byte(nil), body...))

	assert.Len(t, sealed, len(body)+4)
	assert.Equal(t, body, sealed[:len(body)])
	assert.Equal(t, uint32(0xE3069283), binary.LittleEndian.Uint32(sealed[len(body):]))
}
