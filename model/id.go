package model

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// NodeID is a 128-bit opaque node identifier.
type NodeID struct {
	Hi uint64
	Lo uint64
}

// NewNodeID returns a random (version 4 UUID based) identifier.
func NewNodeID() NodeID {
	return NodeIDFromUUID(uuid.New())
}

// NodeIDFromUUID converts a UUID into a NodeID.
func NodeIDFromUUID(u uuid.UUID) NodeID {
	return NodeID{
		Hi: binary.BigEndian.Uint64(u[0:8]),
		Lo: binary.BigEndian.Uint64(u[8:16]),
	}
}

// ParseNodeID parses the canonical UUID text form.
func ParseNodeID(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("parse node id %q: %w", s, err)
	}
	return NodeIDFromUUID(u), nil
}

// UUID returns the identifier as a UUID value.
func (id NodeID) UUID() uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint64(u[0:8], id.Hi)
	binary.BigEndian.PutUint64(u[8:16], id.Lo)
	return u
}

// String returns the canonical UUID text form.
func (id NodeID) String() string {
	return id.UUID().String()
}

// IsZero reports whether id is the zero identifier.
func (id NodeID) IsZero() bool {
	return id.Hi == 0 && id.Lo == 0
}

// Compare orders identifiers by (Hi, Lo).
func (id NodeID) Compare(other NodeID) int {
	switch {
	case id.Hi < other.Hi:
		return -1
	case id.Hi > other.Hi:
		return 1
	case id.Lo < other.Lo:
		return -1
	case id.Lo > other.Lo:
		return 1
	default:
		return 0
	}
}

// PutBytes writes the 16-byte little-endian wire form into b.
func (id NodeID) PutBytes(b []byte) {
	_ = b[15]
	binary.LittleEndian.PutUint64(b[0:8], id.Hi)
	binary.LittleEndian.PutUint64(b[8:16], id.Lo)
}

// NodeIDFromBytes decodes the 16-byte little-endian wire form.
func NodeIDFromBytes(b []byte) NodeID {
	_ = b[15]
	return NodeID{
		Hi: binary.LittleEndian.Uint64(b[0:8]),
		Lo: binary.LittleEndian.Uint64(b[8:16]),
	}
}
