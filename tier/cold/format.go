package cold

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/vecmem/internal/codec"
	"github.com/hupe1980/vecmem/internal/hash"
	"github.com/hupe1980/vecmem/model"
)

const (
	// Magic identifies a cold tier blob ("VMCT").
	Magic uint32 = 0x54434D56
	// Version is the blob layout version.
	Version uint32 = 1

	headerSize  = 4 + 4 + 1 + 3 + 8 + 8
	trailerSize = 4

	// minRecord is the encoded size of a record without vector or extras.
	minRecord = 16 + 1 + 8 + 8 + 4 + 4 + 4 + 4 + 8 + 4 + 4 + 4 + 4
)

// ErrCorrupted is returned when a cold blob fails validation.
var ErrCorrupted = errors.New("cold: corrupted tier blob")

func marshalBlob(records []*Record, c Compression) ([]byte, error) {
	raw := binary.LittleEndian.AppendUint64(nil, uint64(len(records)))
	for _, r := range records {
		var err error
		raw, err = codec.AppendNode(raw, r.Node(), codec.VectorFloat32)
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", r.Meta.ID, err)
		}
	}

	stored, used, err := compress(raw, c)
	if err != nil {
		return nil, err
	}

	out := make([]byte, headerSize, headerSize+len(stored)+trailerSize)
	binary.LittleEndian.PutUint32(out[0:], Magic)
	binary.LittleEndian.PutUint32(out[4:], Version)
	out[8] = byte(used)
	binary.LittleEndian.PutUint64(out[12:], uint64(len(raw)))
	binary.LittleEndian.PutUint64(out[20:], uint64(len(stored)))
	out = append(out, stored...)
	return hash.AppendCRC32C(out), nil
}

func unmarshalBlob(data []byte) (map[model.NodeID]*Record, Compression, error) {
	if len(data) < headerSize+trailerSize {
		return nil, 0, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupted, len(data))
	}
	if m := binary.LittleEndian.Uint32(data[0:]); m != Magic {
		return nil, 0, fmt.Errorf("%w: bad magic %#x", ErrCorrupted, m)
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != Version {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrCorrupted, v)
	}

	body := data[:len(data)-trailerSize]
	if hash.CRC32C(body) != binary.LittleEndian.Uint32(data[len(data)-trailerSize:]) {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}

	c := Compression(data[8])
	rawLen := binary.LittleEndian.Uint64(data[12:])
	storedLen := binary.LittleEndian.Uint64(data[20:])
	if storedLen != uint64(len(body)-headerSize) || rawLen > 1<<40 {
		return nil, 0, fmt.Errorf("%w: inconsistent lengths", ErrCorrupted)
	}

	raw, err := decompress(body[headerSize:], c, int(rawLen))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if len(raw) < 8 {
		return nil, 0, fmt.Errorf("%w: missing record count", ErrCorrupted)
	}

	count := binary.LittleEndian.Uint64(raw)
	if count > uint64(len(raw)-8)/minRecord {
		return nil, 0, fmt.Errorf("%w: record count %d exceeds body", ErrCorrupted, count)
	}

	records := make(map[model.NodeID]*Record, count)
	off := 8
	for i := uint64(0); i < count; i++ {
		n, used, err := codec.DecodeNode(raw[off:], codec.VectorFloat32)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: record %d: %v", ErrCorrupted, i, err)
		}
		off += used
		records[n.ID] = RecordFromNode(n)
	}
	if off != len(raw) {
		return nil, 0, fmt.Errorf("%w: %d trailing bytes", ErrCorrupted, len(raw)-off)
	}
	return records, c, nil
}
