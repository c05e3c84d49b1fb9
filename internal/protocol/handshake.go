package protocol

import (
	"context"
	"fmt"

	"saltyrtc.io/server/internal/session"
	"saltyrtc.io/server/internal/wire"
)

const (
	minPingInterval = 1
	maxPingInterval = 86400
)

// handshake runs server-hello through server-auth. On success the session's
// role and authenticated flag are set and the session has a slot in e.Path.
func (e *Engine) handshake(ctx context.Context) error {
	hello := wire.Message{Kind: wire.KindServerHello, ServerHello: wire.ServerHello{Key: e.Session.ServerPublicKey()}}
	if err := e.Session.Send(ctx, hello); err != nil {
		return err
	}

	// The connecting client might turn out to be the initiator, whose
	// permanent public key is already known from the URL path: seed the
	// box with it so an initiator's client-auth arrives encrypted, per
	// the handshake's authentication requirement. A responder instead
	// announces its own key via client-hello, sent in the clear; see
	// Unpack's plaintext fallback.
	e.Session.SetClientKey(e.Path.InitiatorKey())

	msg, err := e.Session.Receive(ctx)
	if err != nil {
		return err
	}
	if msg.Nonce.Destination() != wire.SlotServer {
		return &wire.MessageFlowError{Reason: "handshake messages must be addressed to the server"}
	}

	switch msg.Kind {
	case wire.KindClientAuth:
		if msg.Nonce.Source() != wire.SlotInitiator {
			return &wire.MessageFlowError{Reason: "client-auth as a first message must originate from the initiator slot"}
		}
		e.Session.SetRole(session.RoleInitiator)
		return e.handshakeInitiator(ctx, msg)
	case wire.KindClientHello:
		if msg.Nonce.Source() != wire.SlotServer {
			return &wire.MessageFlowError{Reason: "client-hello must originate from the unassigned slot"}
		}
		e.Session.SetRole(session.RoleResponder)
		return e.handshakeResponder(ctx, msg)
	default:
		return &wire.MessageFlowError{Reason: fmt.Sprintf("unexpected %s as first handshake message", msg.Kind)}
	}
}

// handshakeInitiator completes the handshake for a client that opened with
// client-auth directly (the server already knows the initiator's key from
// the URL path, so the initiator skips client-hello).
func (e *Engine) handshakeInitiator(ctx context.Context, msg wire.Message) error {
	if !wire.CookiesEqual(msg.ClientAuth.YourCookie, e.Session.ServerCookie()) {
		return &wire.MessageError{Reason: "client-auth: your_cookie does not match the server's cookie"}
	}
	if err := e.applyClientAuthOptions(msg.ClientAuth); err != nil {
		return err
	}
	clientCookie := msg.Nonce.Cookie()
	e.Session.SetClientCookie(clientCookie)
	e.Session.Authenticate()

	previous := e.Path.SetInitiator(e.Session)
	if previous != nil {
		go previous.Close(CloseDroppedByInitiator, "dropped by initiator")
	}

	auth := wire.Message{
		Kind: wire.KindServerAuth,
		ServerAuth: wire.ServerAuth{
			YourCookie:  clientCookie,
			ToInitiator: true,
			Responders:  e.Path.GetResponderIds(),
		},
	}
	return e.Session.Send(ctx, auth)
}

// handshakeResponder completes the handshake for a client that opened with
// client-hello, which must be immediately followed by client-auth.
func (e *Engine) handshakeResponder(ctx context.Context, hello wire.Message) error {
	e.Session.SetClientKey(hello.ClientHello.Key)

	msg, err := e.Session.Receive(ctx)
	if err != nil {
		return err
	}
	if msg.Kind != wire.KindClientAuth {
		return &wire.MessageFlowError{Reason: fmt.Sprintf("expected client-auth after client-hello, got %s", msg.Kind)}
	}
	if msg.Nonce.Source() != wire.SlotServer {
		return &wire.MessageFlowError{Reason: "client-auth following client-hello must still originate from the unassigned slot"}
	}
	if msg.Nonce.Destination() != wire.SlotServer {
		return &wire.MessageFlowError{Reason: "handshake messages must be addressed to the server"}
	}
	if !wire.CookiesEqual(msg.ClientAuth.YourCookie, e.Session.ServerCookie()) {
		return &wire.MessageError{Reason: "client-auth: your_cookie does not match the server's cookie"}
	}
	if err := e.applyClientAuthOptions(msg.ClientAuth); err != nil {
		return err
	}
	clientCookie := msg.Nonce.Cookie()
	e.Session.SetClientCookie(clientCookie)
	e.Session.Authenticate()

	if _, err := e.Path.AddResponder(e.Session); err != nil {
		return err
	}

	initiator := e.Path.GetInitiator()
	if initiator != nil {
		id := e.Session.Slot()
		notice := wire.Message{Kind: wire.KindNewResponder, NewResponder: wire.NewResponder{ID: id}}
		if err := initiator.Send(ctx, notice); err != nil {
			e.Log.Warn("failed to notify initiator of new responder", "error", err)
		}
	}

	auth := wire.Message{
		Kind: wire.KindServerAuth,
		ServerAuth: wire.ServerAuth{
			YourCookie:         clientCookie,
			ToInitiator:        false,
			InitiatorConnected: initiator != nil,
		},
	}
	return e.Session.Send(ctx, auth)
}

// applyClientAuthOptions validates and applies the optional fields a client
// may set during client-auth. Subprotocols and your_key negotiation (trusted
// responder key pinning) are accepted but not enforced further here; the
// subprotocol itself was already pinned at WebSocket accept time.
func (e *Engine) applyClientAuthOptions(auth wire.ClientAuth) error {
	if auth.PingInterval != nil {
		v := *auth.PingInterval
		if v < minPingInterval || v > maxPingInterval {
			return &wire.MessageError{Reason: "client-auth: ping_interval out of range"}
		}
		e.Session.KeepAliveInterval = int(v)
	}
	return nil
}
