package wire

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Endpoint is the subset of session state the codec needs to pack an
// outgoing message or validate an incoming one. internal/session.Session
// implements this; it is declared here (the consumer side) rather than
// imported, so internal/wire never needs to know about internal/session.
type Endpoint interface {
	// Slot is this endpoint's own receiver identifier as seen by the
	// server: SlotInitiator, an assigned responder id, or SlotServer if a
	// responder has not yet been assigned a slot.
	Slot() Slot
	// ServerCookie is the cookie the server generated for this connection.
	ServerCookie() Cookie
	// Box is the session's authenticated encryption context, or nil before
	// the client's public key is known.
	Box() *Box
	// Authenticated reports whether the handshake has completed.
	Authenticated() bool
	// NextOutboundCSN advances and returns this session's next combined
	// sequence number for server-to-client messages.
	NextOutboundCSN() (uint64, error)
	// CheckInboundCSN validates that csn strictly increases for messages
	// this session's client has sent toward destination dst, and records it.
	CheckInboundCSN(dst Slot, csn uint64) error
}

// Pack encodes msg as a wire frame (nonce || ciphertext-or-plaintext) using
// dst's session state. server-hello is the only kind sent unencrypted.
func Pack(msg Message, dst Endpoint) ([]byte, error) {
	payload, err := encodePayload(msg)
	if err != nil {
		return nil, err
	}

	csn, err := dst.NextOutboundCSN()
	if err != nil {
		return nil, err
	}
	nonce := NewNonce(dst.ServerCookie(), SlotServer, dst.Slot(), csn)

	var body []byte
	if msg.Kind == KindServerHello {
		body = payload
	} else {
		b := dst.Box()
		if b == nil {
			return nil, newMessageFlowError("cannot encrypt %s: no box established", msg.Kind)
		}
		body = b.Seal(payload, nonce)
	}

	out := make([]byte, NonceSize+len(body))
	copy(out, nonce[:])
	copy(out[NonceSize:], body)
	return out, nil
}

// Unpack decodes a raw wire frame received by src. If the frame is an
// authenticated peer-to-peer relay frame (non-zero destination from an
// authenticated sender), it is returned as KindRawRelay without decryption.
func Unpack(raw []byte, src Endpoint) (Message, error) {
	if len(raw) < NonceSize {
		return Message{}, newMessageError("frame too short: %d bytes", len(raw))
	}
	var nonce Nonce
	copy(nonce[:], raw[:NonceSize])
	body := raw[NonceSize:]

	destination := nonce.Destination()
	if destination != SlotServer && src.Authenticated() {
		if err := src.CheckInboundCSN(destination, nonce.CSN()); err != nil {
			return Message{}, err
		}
		return Message{
			Kind:  KindRawRelay,
			Nonce: nonce,
			RawRelay: RawRelay{
				Nonce:      nonce,
				Ciphertext: body,
				Wire:       raw,
			},
		}, nil
	}

	if err := src.CheckInboundCSN(SlotServer, nonce.CSN()); err != nil {
		return Message{}, err
	}

	var plaintext []byte
	if b := src.Box(); b != nil {
		pt, err := b.Open(body, nonce)
		switch {
		case err == nil:
			plaintext = pt
		case src.Authenticated():
			// Post-handshake, the box key is already confirmed; a failed
			// open is a real decryption failure, not a bootstrap ambiguity.
			return Message{}, err
		default:
			// Before authentication the server may have pre-seeded the box
			// with the path's presumed initiator key to decrypt client-auth
			// as soon as it arrives. A responder's client-hello announces a
			// different key and fails to open under that guess; it is a
			// legal plaintext frame instead.
			plaintext = body
		}
	} else {
		// Only legal for the single unencrypted handshake step.
		plaintext = body
	}

	msg, err := decodePayload(plaintext)
	if err != nil {
		return Message{}, err
	}
	msg.Nonce = nonce
	return msg, nil
}

// encodePayload serializes msg's fields into the MessagePack map wire
// format for its kind.
func encodePayload(msg Message) ([]byte, error) {
	m := map[string]interface{}{"type": msg.Kind.String()}
	switch msg.Kind {
	case KindServerHello:
		m["key"] = msg.ServerHello.Key[:]
	case KindServerAuth:
		m["your_cookie"] = msg.ServerAuth.YourCookie[:]
		if msg.ServerAuth.ToInitiator {
			// Encode as a msgpack array of integers, per spec, not the bin
			// blob a bare []byte would produce under msgpack's byte-slice
			// convention.
			ids := make([]int, len(msg.ServerAuth.Responders))
			for i, id := range msg.ServerAuth.Responders {
				ids[i] = int(id)
			}
			m["responders"] = ids
		} else {
			m["initiator_connected"] = msg.ServerAuth.InitiatorConnected
		}
		if msg.ServerAuth.SignedKeys != nil {
			m["signed_keys"] = msg.ServerAuth.SignedKeys
		}
	case KindNewResponder:
		m["id"] = msg.NewResponder.ID
	case KindNewInitiator:
		// no additional fields
	case KindSendError:
		m["id"] = msg.SendError.ID[:]
	case KindDisconnected:
		m["id"] = msg.Disconnected.ID
	default:
		return nil, newMessageError("cannot encode client-originated kind %s", msg.Kind)
	}
	return msgpack.Marshal(m)
}

// decodePayload parses a MessagePack map and dispatches on its "type"
// field into the corresponding Message. Client-originated kinds and
// server-hello are decoded; any other server-originated kind is rejected
// with a MessageFlowError.
func decodePayload(data []byte) (Message, error) {
	var m map[string]interface{}
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return Message{}, newMessageError("malformed messagepack: %v", err)
	}

	rawType, ok := m["type"]
	if !ok {
		return Message{}, newMessageError("missing required field 'type'")
	}
	typeStr, ok := rawType.(string)
	if !ok {
		return Message{}, newMessageError("field 'type' must be a string")
	}
	kind, ok := kindFromWireType(typeStr)
	if !ok {
		return Message{}, newMessageError("unknown message type %q", typeStr)
	}

	switch kind {
	case KindServerHello:
		key, err := fieldBin32(m, "key")
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: kind, ServerHello: ServerHello{Key: key}}, nil
	case KindClientHello:
		key, err := fieldBin32(m, "key")
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: kind, ClientHello: ClientHello{Key: key}}, nil
	case KindClientAuth:
		cookie, err := fieldBin16(m, "your_cookie")
		if err != nil {
			return Message{}, err
		}
		auth := ClientAuth{YourCookie: cookie}
		if raw, ok := m["subprotocols"]; ok {
			subs, err := fieldStringSlice(raw)
			if err != nil {
				return Message{}, err
			}
			auth.Subprotocols = subs
		}
		if raw, ok := m["ping_interval"]; ok {
			v, err := fieldUint32(raw)
			if err != nil {
				return Message{}, err
			}
			auth.PingInterval = &v
		}
		if raw, ok := m["your_key"]; ok {
			key, err := fieldBin32FromValue(raw)
			if err != nil {
				return Message{}, err
			}
			auth.YourKey = &key
		}
		return Message{Kind: kind, ClientAuth: auth}, nil
	case KindDropResponder:
		id, err := fieldUint8(m, "id")
		if err != nil {
			return Message{}, err
		}
		drop := DropResponder{ID: id}
		if raw, ok := m["reason"]; ok {
			v, err := fieldUint32(raw)
			if err != nil {
				return Message{}, err
			}
			reason := uint16(v)
			drop.Reason = &reason
		}
		return Message{Kind: kind, DropResponder: drop}, nil
	default:
		return Message{}, newMessageFlowError("unexpected server-originated type %q from client", typeStr)
	}
}
