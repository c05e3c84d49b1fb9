// Package signaling implements the Server component: it accepts WebSocket
// upgrades, demultiplexes connections onto Paths by URL, and dispatches
// each connection to its own protocol.Engine.
package signaling

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"saltyrtc.io/server/internal/logging"
	"saltyrtc.io/server/internal/path"
	"saltyrtc.io/server/internal/protocol"
	"saltyrtc.io/server/internal/session"
	"saltyrtc.io/server/internal/wire"
)

// Subprotocols lists every WebSocket subprotocol this server understands,
// printed verbatim by the "version" CLI command.
var Subprotocols = []string{"v1.saltyrtc.org"}

var hexPathPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ErrRepeatedPermanentKey is returned by New when two configured permanent
// keys are identical.
var ErrRepeatedPermanentKey = errors.New("signaling: repeated permanent keys")

// Server holds the process-wide state shared by every connection: the path
// table, the set of in-flight engines (for graceful shutdown), and metrics.
type Server struct {
	log     *slog.Logger
	metrics protocol.Metrics
	table   *path.Table

	mu      sync.Mutex
	engines map[*protocol.Engine]struct{}
}

// New validates permanentKeys for pairwise distinctness and constructs a
// Server. permanentKeys may be empty; distinctness is still checked among
// whatever is given.
func New(permanentKeys []wire.SecretKey, log *slog.Logger, metrics protocol.Metrics) (*Server, error) {
	seen := make(map[wire.SecretKey]bool, len(permanentKeys))
	for _, k := range permanentKeys {
		if seen[k] {
			return nil, ErrRepeatedPermanentKey
		}
		seen[k] = true
	}
	if log == nil {
		log = logging.Nop()
	}
	if metrics == nil {
		metrics = protocol.NoopMetrics
	}
	return &Server{
		log:     log,
		metrics: metrics,
		table:   path.NewTable(),
		engines: make(map[*protocol.Engine]struct{}),
	}, nil
}

// Handler returns the http.Handler that accepts WebSocket upgrades and
// drives each connection to completion. The handler blocks until the
// connection closes; callers typically invoke it from an http.Server.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: Subprotocols,
		// Origin checking only matters when a connection can act on behalf
		// of ambient user state (CSRF). There is none here: every action
		// requires the NaCl keys exchanged inside the encrypted handshake.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", logging.KeyError, err)
		return
	}

	if conn.Subprotocol() != Subprotocols[0] {
		s.metrics.NoSharedSubprotocol()
		conn.Close(websocket.StatusCode(protocol.CloseNoSharedSubprotocol), "no shared subprotocol")
		return
	}

	initiatorKey, err := parseInitiatorKey(r.URL.Path)
	if err != nil {
		conn.Close(websocket.StatusCode(protocol.CloseSaltyProtocolError), err.Error())
		return
	}

	s.handleConnection(r.Context(), conn, initiatorKey)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, initiatorKey wire.PublicKey) {
	p := s.table.GetOrCreate(initiatorKey)
	s.metrics.PathsActive(s.table.Len())
	log := s.log.With(logging.KeyPath, hex.EncodeToString(initiatorKey[:]), logging.KeyPathNumber, p.Number())

	sess, err := session.New(conn, log)
	if err != nil {
		log.Error("failed to initialize session", logging.KeyError, err)
		conn.Close(websocket.StatusCode(protocol.CloseInternalError), "internal error")
		return
	}

	events := &protocol.Events{}
	engine := protocol.New(p, s.table, sess, log, events, s.metrics)

	s.mu.Lock()
	s.engines[engine] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.engines, engine)
		s.mu.Unlock()
	}()

	code, err := engine.Run(ctx)
	if err != nil {
		log.Info("connection closed", logging.KeyCloseCode, code, logging.KeyReason, err)
	} else {
		log.Info("connection closed", logging.KeyCloseCode, code)
	}
}

// parseInitiatorKey validates that path is exactly "/" followed by 64
// lowercase hex characters, per spec.md's WebSocket URL grammar.
func parseInitiatorKey(urlPath string) (wire.PublicKey, error) {
	var key wire.PublicKey
	if len(urlPath) == 0 || urlPath[0] != '/' {
		return key, fmt.Errorf("%w: missing leading slash", protocol.ErrPathError)
	}
	hexPart := urlPath[1:]
	if !hexPathPattern.MatchString(hexPart) {
		return key, fmt.Errorf("%w: path must be 64 lowercase hex characters", protocol.ErrPathError)
	}
	decoded, err := hex.DecodeString(hexPart)
	if err != nil {
		return key, fmt.Errorf("%w: %v", protocol.ErrPathError, err)
	}
	copy(key[:], decoded)
	return key, nil
}

// Shutdown waits (up to timeout) for every in-flight engine to finish. It
// does not cancel them itself: engines stop when the request context their
// connection was accepted under is cancelled.
func (s *Server) Shutdown(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		n := len(s.engines)
		s.mu.Unlock()
		if n == 0 || time.Now().After(deadline) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// PathCount returns the number of currently active paths, for metrics.
func (s *Server) PathCount() int { return s.table.Len() }
