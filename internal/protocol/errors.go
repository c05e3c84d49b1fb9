package protocol

import (
	"errors"

	"saltyrtc.io/server/internal/path"
	"saltyrtc.io/server/internal/session"
	"saltyrtc.io/server/internal/wire"
)

// ErrPathError indicates a malformed URL path (not 64 lowercase hex chars).
var ErrPathError = errors.New("protocol: malformed path")

// ErrPingTimeout indicates a keep-alive pong did not arrive in time.
var ErrPingTimeout = errors.New("protocol: keep-alive pong timed out")

// ErrSignaling indicates an internal invariant was violated, such as a
// sibling task returning without error while the connection is still open.
var ErrSignaling = errors.New("protocol: internal signalling invariant violated")

// CloseCodeFor maps an error from the Codec/Session/Engine stack to the
// close code the connection should be closed with, per spec.md §7.
func CloseCodeFor(err error) int {
	switch {
	case err == nil:
		return CloseNormal
	case errors.Is(err, ErrPathError):
		return CloseSaltyProtocolError
	case errors.Is(err, path.ErrSlotsFull):
		return ClosePathFull
	case errors.Is(err, ErrPingTimeout):
		return CloseKeepAliveTimeout
	case errors.Is(err, session.ErrDisconnected):
		return CloseNormal
	case errors.Is(err, ErrSignaling):
		return CloseSaltyInternalError
	case errors.Is(err, wire.ErrOverflow):
		return CloseSaltyProtocolError
	case isMessageError(err):
		return CloseSaltyProtocolError
	default:
		return CloseInternalError
	}
}

func isMessageError(err error) bool {
	var msgErr *wire.MessageError
	var flowErr *wire.MessageFlowError
	return errors.As(err, &msgErr) || errors.As(err, &flowErr)
}
