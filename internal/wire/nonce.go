// Package wire implements the SaltyRTC binary envelope: nonce framing,
// NaCl box encryption, and MessagePack message encoding.
package wire

import (
	"encoding/binary"
	"errors"
)

// Sizes of the fixed-length values making up the wire format.
const (
	KeySize    = 32
	CookieSize = 16
	NonceSize  = CookieSize + 1 + 1 + 2 + 4 // 24

	// MaxSequence is the largest representable combined sequence number
	// (48 bits: 2 bytes overflow, 4 bytes sequence).
	MaxSequence = 1<<48 - 1
)

// Slot identifies a receiver within a Path. 0x00 is the server itself,
// 0x01 is always the initiator, and 0x02-0xFF are responders.
type Slot = byte

const (
	SlotServer    Slot = 0x00
	SlotInitiator Slot = 0x01
)

// PublicKey and SecretKey are NaCl curve25519 keys.
type PublicKey [KeySize]byte
type SecretKey [KeySize]byte

// Cookie is a 16-byte random value chosen once per sender per connection.
type Cookie [CookieSize]byte

// ErrOverflow is returned when a combined sequence number would exceed
// MaxSequence.
var ErrOverflow = errors.New("wire: combined sequence number overflow")

// Nonce is the 24-byte prefix of every wire message:
// cookie(16) || source(1) || destination(1) || overflow(2, BE) || sequence(4, BE).
type Nonce [NonceSize]byte

// NewNonce assembles a nonce from its fields.
func NewNonce(cookie Cookie, source, destination Slot, csn uint64) Nonce {
	var n Nonce
	copy(n[0:CookieSize], cookie[:])
	n[CookieSize] = source
	n[CookieSize+1] = destination
	binary.BigEndian.PutUint16(n[CookieSize+2:CookieSize+4], uint16(csn>>32))
	binary.BigEndian.PutUint32(n[CookieSize+4:CookieSize+8], uint32(csn))
	return n
}

// Cookie returns the nonce's cookie field.
func (n Nonce) Cookie() Cookie {
	var c Cookie
	copy(c[:], n[0:CookieSize])
	return c
}

// Source returns the nonce's source slot.
func (n Nonce) Source() Slot { return n[CookieSize] }

// Destination returns the nonce's destination slot.
func (n Nonce) Destination() Slot { return n[CookieSize+1] }

// CSN returns the 48-bit combined sequence number (overflow || sequence).
func (n Nonce) CSN() uint64 {
	overflow := uint64(binary.BigEndian.Uint16(n[CookieSize+2 : CookieSize+4]))
	sequence := uint64(binary.BigEndian.Uint32(n[CookieSize+4 : CookieSize+8]))
	return overflow<<32 | sequence
}

// NextCSN increments csn, returning ErrOverflow if it would exceed the
// 48-bit combined sequence number space.
func NextCSN(csn uint64) (uint64, error) {
	if csn >= MaxSequence {
		return 0, ErrOverflow
	}
	return csn + 1, nil
}
