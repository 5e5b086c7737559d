package hot

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/vecmem/internal/codec"
	"github.com/hupe1980/vecmem/internal/conv"
	"github.com/hupe1980/vecmem/internal/hash"
	"github.com/hupe1980/vecmem/model"
)

const (
	// Magic starts every snapshot file ("VMHS").
	Magic uint32 = 0x53484D56
	// FooterMagic ends every checksummed snapshot file ("VMHE").
	FooterMagic uint32 = 0x45484D56

	// Version is the version written by Save.
	Version uint32 = 3
	// MinVersion is the oldest version Load accepts.
	MinVersion uint32 = 2

	legacyVersion uint32 = 2
)

var (
	// ErrCorrupted is returned for a snapshot that fails validation.
	ErrCorrupted = errors.New("hot: snapshot corrupted")
	// ErrNeedsUpgrade is returned for snapshots older than MinVersion.
	ErrNeedsUpgrade = errors.New("hot: snapshot version too old, needs upgrade")
	// ErrNeedsNewerBinary is returned for snapshots newer than Version.
	ErrNeedsNewerBinary = errors.New("hot: snapshot version too new, needs newer binary")
)

// Header is the decoded fixed part of a snapshot.
type Header struct {
	Version   uint32
	Count     uint64
	Watermark uint64
	Checksum  bool
}

type snapshot struct {
	Header
	nodes     []*model.Node
	indexBlob []byte
}

func marshalSnapshot(version uint32, watermark uint64, nodes []*model.Node, indexBlob []byte) ([]byte, error) {
	size := 4 + 4 + 8 + 8 + 8 + len(indexBlob) + 8
	for _, n := range nodes {
		size += codec.NodeSize(n, codec.VectorFloat32)
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, Magic)
	buf = binary.LittleEndian.AppendUint32(buf, version)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(nodes)))
	if version >= 3 {
		buf = binary.LittleEndian.AppendUint64(buf, watermark)
	}

	var err error
	for _, n := range nodes {
		if buf, err = codec.AppendNode(buf, n, codec.VectorFloat32); err != nil {
			return nil, fmt.Errorf("encode node %s: %w", n.ID, err)
		}
	}

	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(indexBlob)))
	buf = append(buf, indexBlob...)

	if version >= 3 {
		buf = hash.AppendCRC32C(buf)
		buf = binary.LittleEndian.AppendUint32(buf, FooterMagic)
	}
	return buf, nil
}

// ReadHeader validates magic, version and (for v3) the checksum of data and
// returns the decoded header without decoding any node.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < 16 {
		return Header{}, fmt.Errorf("%w: %d bytes is too short", ErrCorrupted, len(data))
	}
	if m := binary.LittleEndian.Uint32(data); m != Magic {
		return Header{}, fmt.Errorf("%w: bad magic %#x", ErrCorrupted, m)
	}

	h := Header{Version: binary.LittleEndian.Uint32(data[4:])}
	switch {
	case h.Version < MinVersion:
		return h, fmt.Errorf("%w: version %d", ErrNeedsUpgrade, h.Version)
	case h.Version > Version:
		return h, fmt.Errorf("%w: version %d", ErrNeedsNewerBinary, h.Version)
	}
	h.Count = binary.LittleEndian.Uint64(data[8:])

	if h.Version >= 3 {
		if len(data) < 24+8+8 {
			return h, fmt.Errorf("%w: %d bytes is too short", ErrCorrupted, len(data))
		}
		body := data[:len(data)-8]
		if f := binary.LittleEndian.Uint32(data[len(data)-4:]); f != FooterMagic {
			return h, fmt.Errorf("%w: bad footer magic %#x", ErrCorrupted, f)
		}
		if want, got := binary.LittleEndian.Uint32(data[len(data)-8:]), hash.CRC32C(body); want != got {
			return h, fmt.Errorf("%w: checksum %#x, want %#x", ErrCorrupted, got, want)
		}
		h.Watermark = binary.LittleEndian.Uint64(data[16:])
		h.Checksum = true
	}
	return h, nil
}

func unmarshalSnapshot(data []byte) (*snapshot, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}

	body := data
	off := 16
	if h.Checksum {
		body = data[:len(data)-8]
		off = 24
	}

	// Each record is at least this long; reject counts the file cannot hold.
	const minRecord = 16 + 1 + 8 + 8 + 4 + 4 + 4 + 4 + 8 + 4 + 12
	if h.Count > uint64(len(body)-off)/minRecord {
		return nil, fmt.Errorf("%w: count %d does not fit in %d bytes", ErrCorrupted, h.Count, len(body))
	}

	s := &snapshot{Header: h, nodes: make([]*model.Node, 0, h.Count)}
	for i := uint64(0); i < h.Count; i++ {
		n, used, err := codec.DecodeNode(body[off:], codec.VectorFloat32)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrCorrupted, i, err)
		}
		s.nodes = append(s.nodes, n)
		off += used
	}

	if len(body)-off < 8 {
		return nil, fmt.Errorf("%w: missing index section", ErrCorrupted)
	}
	blobLen, err := conv.Uint64ToInt(binary.LittleEndian.Uint64(body[off:]))
	if err != nil {
		return nil, fmt.Errorf("%w: index blob length: %v", ErrCorrupted, err)
	}
	off += 8
	if blobLen > len(body)-off {
		return nil, fmt.Errorf("%w: index blob of %d bytes overruns file", ErrCorrupted, blobLen)
	}
	s.indexBlob = body[off : off+blobLen]
	off += blobLen

	if off != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupted, len(body)-off)
	}
	return s, nil
}
