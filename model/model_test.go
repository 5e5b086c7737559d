package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeID_RoundTrip(t *testing.T) {
	id := NewNodeID()
	require.False(t, id.IsZero())

	parsed, err := ParseNodeID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	var buf [16]byte
	id.PutBytes(buf[:])
	assert.Equal(t, id, NodeIDFromBytes(buf[:]))

	_, err = ParseNodeID("not-a-uuid")
	assert.Error(t, err)
}

func TestNodeID_Compare(t *testing.T) {
	a := NodeID{Hi: 1, Lo: 5}
	b := NodeID{Hi: 1, Lo: 6}
	c := NodeID{Hi: 2, Lo: 0}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, c.Compare(b))
	assert.Equal(t, 0, a.Compare(a))
}

func TestNode_CloneIsDeep(t *testing.T) {
	n := NewNode(3, []float32{1, 2, 3})
	n.Payload = []byte("payload")
	n.Tags = []string{"a"}
	n.Edges = []Edge{{Target: NewNodeID(), Type: 1, Weight: 0.5}}

	c := n.Clone()
	c.Vector[0] = 42
	c.Payload[0] = 'X'
	c.Tags[0] = "b"
	c.Edges[0].Weight = 1

	assert.Equal(t, float32(1), n.Vector[0])
	assert.Equal(t, byte('p'), n.Payload[0])
	assert.Equal(t, "a", n.Tags[0])
	assert.Equal(t, float32(0.5), n.Edges[0].Weight)
}

func TestNode_UpsertEdge(t *testing.T) {
	n := NewNode(0, nil)
	target := NewNodeID()

	assert.True(t, n.UpsertEdge(Edge{Target: target, Type: 1, Weight: 0.2}))
	assert.False(t, n.UpsertEdge(Edge{Target: target, Type: 1, Weight: 0.2}))
	assert.True(t, n.UpsertEdge(Edge{Target: target, Type: 1, Weight: 0.7}))
	assert.True(t, n.UpsertEdge(Edge{Target: target, Type: 2, Weight: 0.7}))

	require.Len(t, n.Edges, 2)
	assert.Equal(t, float32(0.7), n.Edges[0].Weight)
}

func TestNode_MetaProjection(t *testing.T) {
	n := NewNode(7, []float32{1})
	n.DecayRate = 0.1

	m := n.Meta(TierWarm)
	assert.Equal(t, n.ID, m.ID)
	assert.Equal(t, TierWarm, m.Tier)
	assert.Equal(t, "warm", m.Tier.String())

	back := m.ToNode()
	assert.Equal(t, n.Confidence, back.Confidence)
	assert.Nil(t, back.Vector)
}
