package protocol

import (
	"context"
	"fmt"
	"time"

	"saltyrtc.io/server/internal/session"
	"saltyrtc.io/server/internal/wire"
)

// initiatorReceiveLoop handles messages from an authenticated initiator:
// raw relayed frames addressed to a responder slot, and drop-responder
// requests.
func (e *Engine) initiatorReceiveLoop(ctx context.Context) error {
	for {
		msg, err := e.Session.Receive(ctx)
		if err != nil {
			return err
		}
		switch msg.Kind {
		case wire.KindRawRelay:
			responder, _ := e.Path.GetResponder(msg.Nonce.Destination())
			go e.relay(e.Session, responder, msg.RawRelay)
		case wire.KindDropResponder:
			e.dropResponder(msg.DropResponder)
		default:
			return &wire.MessageFlowError{Reason: fmt.Sprintf("unexpected %s from initiator in relay phase", msg.Kind)}
		}
	}
}

// responderReceiveLoop handles messages from an authenticated responder:
// raw relayed frames, always addressed to the initiator.
func (e *Engine) responderReceiveLoop(ctx context.Context) error {
	for {
		msg, err := e.Session.Receive(ctx)
		if err != nil {
			return err
		}
		if msg.Kind != wire.KindRawRelay {
			return &wire.MessageFlowError{Reason: fmt.Sprintf("unexpected %s from responder in relay phase", msg.Kind)}
		}
		if msg.Nonce.Destination() != wire.SlotInitiator {
			return &wire.MessageFlowError{Reason: "a responder may only relay to the initiator slot"}
		}
		initiator := e.Path.GetInitiator()
		go e.relay(e.Session, initiator, msg.RawRelay)
	}
}

func (e *Engine) dropResponder(drop wire.DropResponder) {
	responder, err := e.Path.GetResponder(drop.ID)
	if err != nil || responder == nil {
		return
	}
	code := CloseDroppedByInitiator
	if drop.Reason != nil {
		code = int(*drop.Reason)
	}
	go responder.Close(code, "dropped by initiator")
}

// relay forwards a raw peer-to-peer frame to receiver, bounded by
// e.RelayTimeout. If receiver is absent, or the forward does not complete
// in time, a send-error is reported back to sender instead. The wait is
// rooted independently of the sender's own connection context: a sender
// that has since disconnected shouldn't cancel a delivery attempt still in
// flight to its peer.
func (e *Engine) relay(sender, receiver *session.Session, raw wire.RawRelay) {
	e.Metrics.RelayAttempted()
	if receiver == nil {
		e.sendSendError(sender, raw.Wire)
		return
	}
	timeout := e.RelayTimeout
	if timeout <= 0 {
		timeout = DefaultRelayTimeout
	}
	relayCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := receiver.SendRaw(relayCtx, raw.Wire); err != nil {
		e.Metrics.RelayFailed()
		e.sendSendError(sender, raw.Wire)
	}
}

func (e *Engine) sendSendError(sender *session.Session, wireBytes []byte) {
	e.Metrics.SendErrorEmitted()
	id := wire.HashWire(wireBytes)
	msg := wire.Message{Kind: wire.KindSendError, SendError: wire.SendError{ID: id}}
	sendCtx, cancel := context.WithTimeout(context.Background(), DefaultRelayTimeout)
	defer cancel()
	if err := sender.Send(sendCtx, msg); err != nil {
		e.Log.Warn("failed to deliver send-error to sender", "error", err)
	}
}

// keepAliveLoop pings the client at KeepAliveInterval and fails with
// ErrPingTimeout if a pong does not arrive within KeepAliveTimeout.
func (e *Engine) keepAliveLoop(ctx context.Context) error {
	for {
		timeout := time.Duration(e.Session.KeepAliveTimeout) * time.Second
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err := e.Session.Ping(pingCtx)
		cancel()
		if err != nil {
			if pingCtx.Err() != nil && ctx.Err() == nil {
				return ErrPingTimeout
			}
			return err
		}

		interval := time.Duration(e.Session.KeepAliveInterval) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
