package wire

import "fmt"

// Kind identifies the type of a decoded Message.
type Kind int

const (
	// Server-originated kinds.
	KindServerHello Kind = iota
	KindServerAuth
	KindNewResponder
	KindNewInitiator
	KindSendError
	KindDisconnected

	// Client-originated kinds.
	KindClientHello
	KindClientAuth
	KindDropResponder

	// KindRawRelay is an opaque peer-to-peer frame the server never decrypts.
	KindRawRelay
)

func (k Kind) String() string {
	switch k {
	case KindServerHello:
		return "server-hello"
	case KindServerAuth:
		return "server-auth"
	case KindNewResponder:
		return "new-responder"
	case KindNewInitiator:
		return "new-initiator"
	case KindSendError:
		return "send-error"
	case KindDisconnected:
		return "disconnected"
	case KindClientHello:
		return "client-hello"
	case KindClientAuth:
		return "client-auth"
	case KindDropResponder:
		return "drop-responder"
	case KindRawRelay:
		return "raw-relay"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// kindFromWireType maps the MessagePack "type" field to a Kind.
func kindFromWireType(t string) (Kind, bool) {
	switch t {
	case "server-hello":
		return KindServerHello, true
	case "server-auth":
		return KindServerAuth, true
	case "new-responder":
		return KindNewResponder, true
	case "new-initiator":
		return KindNewInitiator, true
	case "send-error":
		return KindSendError, true
	case "disconnected":
		return KindDisconnected, true
	case "client-hello":
		return KindClientHello, true
	case "client-auth":
		return KindClientAuth, true
	case "drop-responder":
		return KindDropResponder, true
	default:
		return 0, false
	}
}

// ServerHello is the server's first handshake message.
type ServerHello struct {
	Key PublicKey
}

// ClientHello identifies a responder to-be by its public key.
type ClientHello struct {
	Key PublicKey
}

// ClientAuth is sent by both initiators and responders to complete the
// handshake. Subprotocols/PingInterval/YourKey are optional.
type ClientAuth struct {
	YourCookie   Cookie
	Subprotocols []string
	PingInterval *uint32
	YourKey      *PublicKey
}

// ServerAuth completes the handshake. Responders field is only populated
// when addressed to an initiator; InitiatorConnected is only populated
// when addressed to a responder. Responders holds slot ids and is encoded
// on the wire as a msgpack array, not a byte string.
type ServerAuth struct {
	YourCookie         Cookie
	ToInitiator        bool
	Responders         []Slot
	InitiatorConnected bool
	SignedKeys         []byte
}

// NewResponder notifies the initiator that a responder has joined.
type NewResponder struct {
	ID Slot
}

// NewInitiator notifies responders that a (new) initiator has joined. Not
// emitted by the handshake sequence in spec.md, kept for completeness of
// the message taxonomy.
type NewInitiator struct{}

// DropResponder asks the server to close a responder's connection.
type DropResponder struct {
	ID     Slot
	Reason *uint16
}

// SendError notifies a sender that a prior relay attempt failed.
type SendError struct {
	ID [32]byte
}

// Disconnected notifies a peer that another peer sharing its path left.
type Disconnected struct {
	ID Slot
}

// RawRelay is an opaque, non-decrypted peer-to-peer frame, identified on
// ingest by a non-zero destination byte for an authenticated sender.
type RawRelay struct {
	Nonce      Nonce
	Ciphertext []byte
	// Wire holds the full original frame (nonce || ciphertext) so it can be
	// relayed byte-for-byte and hashed for send-error reporting.
	Wire []byte
}

// Message is a closed tagged union over every wire-level message kind.
type Message struct {
	Kind Kind
	// Nonce is the nonce the message arrived with (zero value for messages
	// constructed to be packed/sent, populated by Unpack on receipt).
	Nonce Nonce

	ServerHello   ServerHello
	ClientHello   ClientHello
	ClientAuth    ClientAuth
	ServerAuth    ServerAuth
	NewResponder  NewResponder
	NewInitiator  NewInitiator
	DropResponder DropResponder
	SendError     SendError
	Disconnected  Disconnected
	RawRelay      RawRelay
}
