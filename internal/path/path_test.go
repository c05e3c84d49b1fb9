package path

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saltyrtc.io/server/internal/session"
	"saltyrtc.io/server/internal/wire"
)

func newTestSession() *session.Session {
	s, err := session.New(nil, nil)
	if err != nil {
		panic(err)
	}
	return s
}

func TestSetInitiatorReturnsPreviousOccupant(t *testing.T) {
	p := New(wire.PublicKey{}, 1)
	first := newTestSession()
	second := newTestSession()

	assert.Nil(t, p.SetInitiator(first))
	assert.Equal(t, first, p.GetInitiator())

	previous := p.SetInitiator(second)
	assert.Equal(t, first, previous)
	assert.Equal(t, second, p.GetInitiator())
}

func TestAddResponderAssignsAscendingSlots(t *testing.T) {
	p := New(wire.PublicKey{}, 1)

	a := newTestSession()
	b := newTestSession()

	idA, err := p.AddResponder(a)
	require.NoError(t, err)
	assert.Equal(t, wire.Slot(0x02), idA)

	idB, err := p.AddResponder(b)
	require.NoError(t, err)
	assert.Equal(t, wire.Slot(0x03), idB)

	assert.Equal(t, []wire.Slot{0x02, 0x03}, p.GetResponderIds())
}

func TestAddResponderReturnsErrSlotsFullWhenExhausted(t *testing.T) {
	p := New(wire.PublicKey{}, 1)
	for i := 0; i < 254; i++ {
		_, err := p.AddResponder(newTestSession())
		require.NoError(t, err)
	}
	_, err := p.AddResponder(newTestSession())
	assert.ErrorIs(t, err, ErrSlotsFull)
}

func TestGetResponderRejectsOutOfRangeID(t *testing.T) {
	p := New(wire.PublicKey{}, 1)
	_, err := p.GetResponder(wire.SlotInitiator)
	assert.ErrorIs(t, err, ErrInvalidResponderID)
}

func TestRemoveIsIdempotent(t *testing.T) {
	p := New(wire.PublicKey{}, 1)
	c := newTestSession()
	p.SetInitiator(c)

	p.Remove(c)
	assert.True(t, p.Empty())

	// A second Remove of the same, already-absent session must not panic
	// or affect anything else.
	p.Remove(c)
	assert.True(t, p.Empty())
}

func TestEmptyReflectsOccupancyAcrossInitiatorAndResponders(t *testing.T) {
	p := New(wire.PublicKey{}, 1)
	assert.True(t, p.Empty())

	responder := newTestSession()
	p.AddResponder(responder)
	assert.False(t, p.Empty())

	p.Remove(responder)
	assert.True(t, p.Empty())
}
