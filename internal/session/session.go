// Package session implements the per-connection client session: the
// WebSocket wrapper, authentication state, and the sequence-number
// bookkeeping the wire codec needs to pack and unpack frames.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"sync"

	"nhooyr.io/websocket"

	"saltyrtc.io/server/internal/wire"
)

// Role identifies whether a Session is the path's initiator or one of its
// responders. It is unset until the handshake determines it.
type Role int

const (
	RoleUnknown Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// ErrDisconnected is returned by Send/Receive/Ping when the underlying
// WebSocket connection is closed.
var ErrDisconnected = errors.New("session: peer disconnected")

const (
	// DefaultKeepAliveInterval and DefaultKeepAliveTimeout are the
	// defaults applied before a client requests different values during
	// client-auth.
	DefaultKeepAliveInterval = 20
	DefaultKeepAliveTimeout  = 30
)

// Session owns one WebSocket connection and everything the protocol engine
// and wire codec need to drive it through the handshake and relay phases.
type Session struct {
	conn *websocket.Conn
	log  *slog.Logger

	serverKey wire.SecretKey
	serverPub wire.PublicKey

	mu            sync.Mutex
	clientKey     *wire.PublicKey
	box           *wire.Box
	role          Role
	authenticated bool
	slot          wire.Slot

	serverCookie wire.Cookie
	clientCookie wire.Cookie

	outboundCSN uint64
	inboundCSN  map[wire.Slot]uint64

	KeepAliveInterval int
	KeepAliveTimeout  int

	closeOnce sync.Once
}

// New creates a Session wrapping conn, generating a fresh per-connection
// server session key pair and server cookie.
func New(conn *websocket.Conn, log *slog.Logger) (*Session, error) {
	pub, priv, err := wire.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	cookie, err := randomCookie()
	if err != nil {
		return nil, err
	}
	return &Session{
		conn:              conn,
		log:               log,
		serverKey:         priv,
		serverPub:         pub,
		inboundCSN:        make(map[wire.Slot]uint64),
		serverCookie:      cookie,
		KeepAliveInterval: DefaultKeepAliveInterval,
		KeepAliveTimeout:  DefaultKeepAliveTimeout,
	}, nil
}

func randomCookie() (wire.Cookie, error) {
	var c wire.Cookie
	if _, err := rand.Read(c[:]); err != nil {
		return c, err
	}
	return c, nil
}

// ServerPublicKey returns the session's ephemeral server-side public key,
// sent to the client in server-hello.
func (s *Session) ServerPublicKey() wire.PublicKey { return s.serverPub }

// ServerCookie implements wire.Endpoint.
func (s *Session) ServerCookie() wire.Cookie { return s.serverCookie }

// ClientCookie returns the cookie the client sent during its handshake
// step, used to echo "your_cookie" back in server-auth.
func (s *Session) ClientCookie() wire.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientCookie
}

// SetClientCookie records the client's cookie, captured from client-auth.
func (s *Session) SetClientCookie(c wire.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientCookie = c
}

// SetClientKey sets (or updates) the client's public key and rebuilds the
// session's box, per spec.md's lazy-Box-construction design note.
func (s *Session) SetClientKey(key wire.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientKey = &key
	s.box = wire.NewBox(s.serverKey, key)
}

// ClientKey returns the client's public key, if known.
func (s *Session) ClientKey() (wire.PublicKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientKey == nil {
		return wire.PublicKey{}, false
	}
	return *s.clientKey, true
}

// Box implements wire.Endpoint.
func (s *Session) Box() *wire.Box {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.box
}

// Role returns the session's receiver role, set once during the handshake.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// SetRole sets the session's receiver role. Set exactly once, during the
// handshake.
func (s *Session) SetRole(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = r
}

// Authenticated implements wire.Endpoint.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Authenticate latches the session's authenticated flag. It never reverts.
func (s *Session) Authenticate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
}

// Slot implements wire.Endpoint. Before a responder is assigned a slot,
// this returns wire.SlotServer ("unassigned").
func (s *Session) Slot() wire.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot
}

// SetSlot records the slot assigned to this session by its Path.
func (s *Session) SetSlot(slot wire.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot = slot
}

// NextOutboundCSN implements wire.Endpoint.
func (s *Session) NextOutboundCSN() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := wire.NextCSN(s.outboundCSN)
	if err != nil {
		return 0, err
	}
	s.outboundCSN = next
	return next, nil
}

// CheckInboundCSN implements wire.Endpoint.
func (s *Session) CheckInboundCSN(dst wire.Slot, csn uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, seen := s.inboundCSN[dst]
	if seen && csn <= last {
		return &wire.MessageError{Reason: "combined sequence number did not strictly increase"}
	}
	s.inboundCSN[dst] = csn
	return nil
}

// Send encodes (if needed) and writes a message as a binary WebSocket frame.
func (s *Session) Send(ctx context.Context, msg wire.Message) error {
	data, err := wire.Pack(msg, s)
	if err != nil {
		return err
	}
	return s.SendRaw(ctx, data)
}

// SendRaw writes raw wire bytes (used for relaying already-packed frames).
func (s *Session) SendRaw(ctx context.Context, data []byte) error {
	if err := s.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return ErrDisconnected
	}
	return nil
}

// Receive reads one binary frame and unpacks it.
func (s *Session) Receive(ctx context.Context) (wire.Message, error) {
	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		return wire.Message{}, ErrDisconnected
	}
	if typ != websocket.MessageBinary {
		return wire.Message{}, &wire.MessageError{Reason: "expected a binary frame"}
	}
	return wire.Unpack(data, s)
}

// Ping sends a WebSocket ping and waits for the pong. If ctx expires before
// the pong arrives, the ctx error (context.DeadlineExceeded or
// context.Canceled) is returned so callers can distinguish a keep-alive
// timeout from an actual disconnect.
func (s *Session) Ping(ctx context.Context) error {
	err := s.conn.Ping(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return ErrDisconnected
}

// Close closes the underlying connection with the given close code and
// reason. It is safe to call multiple times; only the first call has any
// effect.
func (s *Session) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close(websocket.StatusCode(code), reason)
	})
	return err
}
