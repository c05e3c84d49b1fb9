// Package protocol implements the per-connection SaltyRTC protocol state
// machine: the handshake, the relay phase, the keep-alive loop, and
// connection teardown.
package protocol

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"saltyrtc.io/server/internal/path"
	"saltyrtc.io/server/internal/session"
)

// DefaultRelayTimeout is the bounded wait for a relayed frame to be
// accepted by its receiver before a send-error is reported back to the
// sender.
const DefaultRelayTimeout = 30 * time.Second

// Metrics is the subset of instrumentation the engine reports to. It is
// declared here, not imported from internal/metrics, so the engine has no
// dependency on how (or whether) metrics are collected.
type Metrics interface {
	HandshakeSucceeded(role string)
	HandshakeFailed(reason string)
	RelayAttempted()
	RelayFailed()
	SendErrorEmitted()
	KeepAliveTimedOut()
	PathsFull()
	NoSharedSubprotocol()
	PathsActive(n int)
	RoleConnected(role string)
	RoleDisconnected(role string)
}

type noopMetrics struct{}

func (noopMetrics) HandshakeSucceeded(string) {}
func (noopMetrics) HandshakeFailed(string)    {}
func (noopMetrics) RelayAttempted()           {}
func (noopMetrics) RelayFailed()              {}
func (noopMetrics) SendErrorEmitted()         {}
func (noopMetrics) KeepAliveTimedOut()        {}
func (noopMetrics) PathsFull()                {}
func (noopMetrics) NoSharedSubprotocol()      {}
func (noopMetrics) PathsActive(int)           {}
func (noopMetrics) RoleConnected(string)      {}
func (noopMetrics) RoleDisconnected(string)   {}

// NoopMetrics is a Metrics implementation that discards everything, used
// where no metrics sink is configured.
var NoopMetrics Metrics = noopMetrics{}

// Engine drives one connection's protocol state machine: handshake, relay,
// keep-alive, and teardown.
type Engine struct {
	Path         *path.Path
	Table        *path.Table
	Session      *session.Session
	Log          *slog.Logger
	Events       *Events
	Metrics      Metrics
	RelayTimeout time.Duration
}

// New creates an Engine for one connection. metrics may be nil, in which
// case NoopMetrics is used.
func New(p *path.Path, t *path.Table, s *session.Session, log *slog.Logger, events *Events, metrics Metrics) *Engine {
	if metrics == nil {
		metrics = NoopMetrics
	}
	return &Engine{
		Path:         p,
		Table:        t,
		Session:      s,
		Log:          log,
		Events:       events,
		Metrics:      metrics,
		RelayTimeout: DefaultRelayTimeout,
	}
}

// Run drives the connection end to end: handshake, relay/keep-alive, and
// teardown. It returns the close code the connection was (or should be)
// closed with, and the terminating error (nil for a clean shutdown-driven
// close).
func (e *Engine) Run(ctx context.Context) (int, error) {
	hexKey := hex.EncodeToString(e.Path.InitiatorKey()[:])

	if err := e.handshake(ctx); err != nil {
		e.Metrics.HandshakeFailed(err.Error())
		if errors.Is(err, path.ErrSlotsFull) {
			e.Metrics.PathsFull()
		}
		code := CloseCodeFor(err)
		e.Session.Close(code, truncate(err.Error()))
		return code, err
	}

	role := e.Session.Role()
	e.Metrics.HandshakeSucceeded(role.String())
	e.Metrics.RoleConnected(role.String())
	switch role {
	case session.RoleInitiator:
		e.Events.emitInitiatorConnected(hexKey)
	case session.RoleResponder:
		e.Events.emitResponderConnected(hexKey)
	}

	runErr := e.runRelayAndKeepAlive(ctx)

	var code int
	if ctx.Err() != nil && runErr == nil {
		code = CloseGoingAway
	} else {
		code = CloseCodeFor(runErr)
	}
	e.Session.Close(code, truncate(errString(runErr)))
	e.Metrics.RoleDisconnected(role.String())

	e.Path.Remove(e.Session)
	e.Table.Prune(e.Path)
	e.Metrics.PathsActive(e.Table.Len())
	e.Events.emitDisconnected(hexKey, code)

	return code, runErr
}

type taskResult struct {
	err error
}

// runRelayAndKeepAlive spawns the receive and keep-alive loops and joins
// them under a first-to-finish rule: the first to return (with or without
// an error) cancels the other, and the engine waits for both to settle
// before returning. Mirrors the teacher's own hand-rolled goroutine+channel
// join (no errgroup import appears anywhere in the source corpus).
func (e *Engine) runRelayAndKeepAlive(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan taskResult, 2)
	go func() { done <- taskResult{e.receiveLoop(connCtx)} }()
	go func() { done <- taskResult{e.keepAliveLoop(connCtx)} }()

	first := <-done
	cancel()
	<-done // wait for the sibling to observe cancellation and exit

	if ctx.Err() != nil {
		// The parent (server shutdown) context ended this, not a task
		// failure; let the caller apply the Going-away close code.
		return nil
	}
	if first.err == nil {
		return ErrSignaling
	}
	return first.err
}

func (e *Engine) receiveLoop(ctx context.Context) error {
	switch e.Session.Role() {
	case session.RoleInitiator:
		return e.initiatorReceiveLoop(ctx)
	case session.RoleResponder:
		return e.responderReceiveLoop(ctx)
	default:
		return ErrSignaling
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func truncate(s string) string {
	// WebSocket close reasons are limited to 123 UTF-8 bytes.
	const max = 123
	if len(s) <= max {
		return s
	}
	return s[:max]
}
