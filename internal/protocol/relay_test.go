package protocol

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"saltyrtc.io/server/internal/session"
)

// newEngineSessionPair mirrors internal/session's own test helper: it starts
// a real WebSocket server in the background and returns an Engine wrapping
// the server-side Session, alongside the raw client-side connection.
func newEngineSessionPair(t *testing.T) (*Engine, *websocket.Conn) {
	t.Helper()
	sessions := make(chan *session.Session, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s, err := session.New(conn, nil)
		if err != nil {
			return
		}
		sessions <- s
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + srv.URL[len("http"):]
	client, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	select {
	case s := <-sessions:
		return New(nil, nil, s, nil, &Events{}, nil), client
	case <-time.After(5 * time.Second):
		t.Fatal("server session was never created")
		return nil, nil
	}
}

// TestKeepAliveLoopReturnsPingTimeoutWhenClientStalls exercises the
// keep-alive pong timeout behavior without waiting out the real default
// 30s timeout: the client is killed outright so the very first ping
// already fails, with the interval/timeout shortened so the loop observes
// it quickly.
func TestKeepAliveLoopReturnsPingTimeoutWhenClientStalls(t *testing.T) {
	e, client := newEngineSessionPair(t)
	e.Session.KeepAliveInterval = 1
	e.Session.KeepAliveTimeout = 1
	client.CloseNow()

	err := e.keepAliveLoop(context.Background())
	require.True(t, errors.Is(err, ErrPingTimeout))
}

func TestKeepAliveLoopStopsOnContextCancellation(t *testing.T) {
	e, _ := newEngineSessionPair(t)
	e.Session.KeepAliveInterval = 5
	e.Session.KeepAliveTimeout = 5

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.keepAliveLoop(ctx) }()

	// Let the first (successful) ping/pong round complete, then cancel
	// while the loop is waiting out its interval.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("keepAliveLoop did not observe cancellation")
	}
}
