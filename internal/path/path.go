// Package path implements the per-initiator-key routing table: at most one
// initiator in slot 0x01, up to 254 responders in slots 0x02-0xFF.
package path

import (
	"errors"
	"sync"

	"saltyrtc.io/server/internal/session"
	"saltyrtc.io/server/internal/wire"
)

// ErrSlotsFull is returned by AddResponder when no free responder slot
// remains on the path.
var ErrSlotsFull = errors.New("path: no free slots")

// ErrInvalidResponderID is returned by GetResponder for an id outside
// 0x02..0xFF.
var ErrInvalidResponderID = errors.New("path: invalid responder identifier")

// Path is the shared routing context between one initiator and its
// responders, keyed by the initiator's long-term public key. All mutation
// is serialized by mu, satisfying the single-actor-per-path rule the
// protocol engine relies on for ordering guarantees.
type Path struct {
	mu            sync.Mutex
	initiatorKey  wire.PublicKey
	number        uint32
	slots         [256]*session.Session // index 0x01..0xFF in use; 0x00 unused
}

// New creates an empty Path for initiatorKey. number is a monotonically
// increasing id assigned by the server for log correlation only.
func New(initiatorKey wire.PublicKey, number uint32) *Path {
	return &Path{initiatorKey: initiatorKey, number: number}
}

// InitiatorKey returns the path's keying initiator public key.
func (p *Path) InitiatorKey() wire.PublicKey { return p.initiatorKey }

// Number returns the path's log-correlation number.
func (p *Path) Number() uint32 { return p.number }

// GetInitiator returns the current initiator session, or nil.
func (p *Path) GetInitiator() *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[wire.SlotInitiator]
}

// SetInitiator assigns c as the path's initiator, returning whichever
// session previously occupied slot 0x01 (nil if the slot was free).
func (p *Path) SetInitiator(c *session.Session) *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	previous := p.slots[wire.SlotInitiator]
	p.slots[wire.SlotInitiator] = c
	c.SetSlot(wire.SlotInitiator)
	return previous
}

// GetResponder returns the responder in slot id, or nil if unoccupied.
// It returns ErrInvalidResponderID unless 0x02 <= id <= 0xFF.
func (p *Path) GetResponder(id wire.Slot) (*session.Session, error) {
	if id < 0x02 {
		return nil, ErrInvalidResponderID
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[id], nil
}

// GetResponderIds returns the ids of every occupied responder slot, in
// ascending order.
func (p *Path) GetResponderIds() []wire.Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []wire.Slot
	for id := 0x02; id <= 0xFF; id++ {
		if p.slots[id] != nil {
			ids = append(ids, wire.Slot(id))
		}
	}
	return ids
}

// AddResponder scans slots 0x02..0xFF in ascending order and assigns c to
// the first free one, returning the assigned id. Returns ErrSlotsFull if
// none are free.
func (p *Path) AddResponder(c *session.Session) (wire.Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := 0x02; id <= 0xFF; id++ {
		if p.slots[id] == nil {
			slot := wire.Slot(id)
			p.slots[id] = c
			c.SetSlot(slot)
			return slot, nil
		}
	}
	return 0, ErrSlotsFull
}

// Remove clears whichever slot currently holds c. No-op if c does not
// occupy any slot on this path (including a second call for the same c).
func (p *Path) Remove(c *session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := 0x01; id <= 0xFF; id++ {
		if p.slots[id] == c {
			p.slots[id] = nil
			return
		}
	}
}

// Empty reports whether every slot is unoccupied.
func (p *Path) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := 0x01; id <= 0xFF; id++ {
		if p.slots[id] != nil {
			return false
		}
	}
	return true
}
