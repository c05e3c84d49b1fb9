package signaling

import (
	"context"
	"encoding/hex"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"nhooyr.io/websocket"

	"saltyrtc.io/server/internal/wire"
)

// rawClient drives the wire protocol directly, the way a real SaltyRTC
// client would, to exercise the server end to end over a real WebSocket.
type rawClient struct {
	t    *testing.T
	conn *websocket.Conn

	priv wire.SecretKey
	pub  wire.PublicKey

	cookie wire.Cookie
	csn    uint64

	serverPub    wire.PublicKey
	serverCookie wire.Cookie
	box          *wire.Box

	// ownSlot is this client's own receiver slot, learned from the
	// destination byte of the server-auth message addressed to it.
	ownSlot wire.Slot
}

func dialRawClient(t *testing.T, url string) *rawClient {
	t.Helper()
	pub, priv, err := wire.GenerateKeyPair()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: Subprotocols,
	})
	require.NoError(t, err)

	var cookie wire.Cookie
	copy(cookie[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})

	c := &rawClient{t: t, conn: conn, priv: priv, pub: pub, cookie: cookie}
	c.readServerHello()
	c.box = wire.NewBox(c.priv, c.serverPub)
	return c
}

func (c *rawClient) nextCSN() uint64 {
	c.csn++
	return c.csn
}

func (c *rawClient) readRaw() (wire.Nonce, []byte) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)
	require.Equal(c.t, websocket.MessageBinary, typ)
	require.GreaterOrEqual(c.t, len(data), wire.NonceSize)

	var nonce wire.Nonce
	copy(nonce[:], data[:wire.NonceSize])
	return nonce, data[wire.NonceSize:]
}

func (c *rawClient) readServerHello() {
	nonce, body := c.readRaw()
	var m map[string]interface{}
	require.NoError(c.t, msgpack.Unmarshal(body, &m))
	require.Equal(c.t, "server-hello", m["type"])
	keyBytes, ok := m["key"].([]byte)
	require.True(c.t, ok)
	copy(c.serverPub[:], keyBytes)
	c.serverCookie = nonce.Cookie()
}

// readEncrypted reads the next frame and decrypts it with the client's
// established box, returning its decoded MessagePack fields.
func (c *rawClient) readEncrypted() (wire.Nonce, map[string]interface{}) {
	nonce, body := c.readRaw()
	plaintext, err := c.box.Open(body, nonce)
	require.NoError(c.t, err)
	var m map[string]interface{}
	require.NoError(c.t, msgpack.Unmarshal(plaintext, &m))
	return nonce, m
}

func (c *rawClient) send(source, destination wire.Slot, payload map[string]interface{}, encrypt bool) {
	c.t.Helper()
	plaintext, err := msgpack.Marshal(payload)
	require.NoError(c.t, err)

	nonce := wire.NewNonce(c.cookie, source, destination, c.nextCSN())
	var body []byte
	if encrypt {
		body = c.box.Seal(plaintext, nonce)
	} else {
		body = plaintext
	}
	frame := make([]byte, wire.NonceSize+len(body))
	copy(frame, nonce[:])
	copy(frame[wire.NonceSize:], body)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageBinary, frame))
}

// toSlot normalizes a msgpack-decoded integer, whose concrete type varies
// with its encoded magnitude (int8, uint8, int64, ...), into a wire.Slot.
func toSlot(t *testing.T, v interface{}) wire.Slot {
	t.Helper()
	switch n := v.(type) {
	case int8:
		return wire.Slot(n)
	case uint8:
		return wire.Slot(n)
	case int64:
		return wire.Slot(n)
	case uint64:
		return wire.Slot(n)
	default:
		t.Fatalf("unexpected numeric type %T", v)
		return 0
	}
}

// authenticateAsInitiator completes the handshake as the path's initiator.
// The dialed client's own key pair must be the one used in the URL path.
func (c *rawClient) authenticateAsInitiator() (responders []wire.Slot) {
	c.send(wire.SlotInitiator, wire.SlotServer, map[string]interface{}{
		"type":        "client-auth",
		"your_cookie": c.serverCookie[:],
	}, true)

	nonce, m := c.readEncrypted()
	require.Equal(c.t, "server-auth", m["type"])
	c.ownSlot = nonce.Destination()
	require.Equal(c.t, wire.SlotInitiator, c.ownSlot)
	ids, ok := m["responders"].([]interface{})
	require.True(c.t, ok, "server-auth to initiator must carry a responders array")
	slots := make([]wire.Slot, len(ids))
	for i, id := range ids {
		slots[i] = toSlot(c.t, id)
	}
	return slots
}

// authenticateAsResponder completes the handshake as a responder: a
// plaintext client-hello announcing this client's key, then an encrypted
// client-auth.
func (c *rawClient) authenticateAsResponder() (initiatorConnected bool) {
	c.send(wire.SlotServer, wire.SlotServer, map[string]interface{}{
		"type": "client-hello",
		"key":  c.pub[:],
	}, false)
	c.send(wire.SlotServer, wire.SlotServer, map[string]interface{}{
		"type":        "client-auth",
		"your_cookie": c.serverCookie[:],
	}, true)

	nonce, m := c.readEncrypted()
	require.Equal(c.t, "server-auth", m["type"])
	c.ownSlot = nonce.Destination()
	connected, _ := m["initiator_connected"].(bool)
	return connected
}

func wsURL(t *testing.T, srv *httptest.Server, initiatorKey wire.PublicKey) string {
	t.Helper()
	return "ws" + srv.URL[len("http"):] + "/" + hex.EncodeToString(initiatorKey[:])
}

func TestHandshakeAndRelayEndToEnd(t *testing.T) {
	srv, err := New(nil, nil, nil)
	require.NoError(t, err)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	initiatorPub, initiatorPriv, err := wire.GenerateKeyPair()
	require.NoError(t, err)
	url := wsURL(t, httpSrv, initiatorPub)

	initiator := dialRawClient(t, url)
	initiator.priv = initiatorPriv
	initiator.pub = initiatorPub
	initiator.box = wire.NewBox(initiator.priv, initiator.serverPub)

	responderIDs := initiator.authenticateAsInitiator()
	require.Empty(t, responderIDs, "no responder has joined yet")
	require.Equal(t, 1, srv.PathCount())

	responder := dialRawClient(t, url)
	connected := responder.authenticateAsResponder()
	require.True(t, connected, "initiator was already on the path")
	require.Equal(t, wire.Slot(0x02), responder.ownSlot)

	// The initiator must observe new-responder before anything else.
	nonce, m := initiator.readEncrypted()
	require.Equal(t, "new-responder", m["type"])
	require.Equal(t, wire.SlotInitiator, nonce.Destination())
	require.Equal(t, wire.Slot(0x02), toSlot(t, m["id"]))

	// Relay a raw peer-to-peer frame from the initiator to the responder.
	// The server never decrypts RawRelay frames, so an arbitrary byte
	// string stands in for a real peer-encrypted payload.
	payload := []byte("opaque end-to-end payload")
	relayNonce := wire.NewNonce(initiator.cookie, wire.SlotInitiator, responder.ownSlot, initiator.nextCSN())
	relayFrame := append(append([]byte{}, relayNonce[:]...), payload...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, initiator.conn.Write(ctx, websocket.MessageBinary, relayFrame))
	cancel()

	gotNonce, gotBody := responder.readRaw()
	require.Equal(t, relayNonce, gotNonce)
	require.Equal(t, payload, gotBody)

	initiator.conn.Close(websocket.StatusNormalClosure, "")
	responder.conn.Close(websocket.StatusNormalClosure, "")
	srv.Shutdown(2 * time.Second)
}

func TestRelayToMissingResponderYieldsSendError(t *testing.T) {
	srv, err := New(nil, nil, nil)
	require.NoError(t, err)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	initiatorPub, initiatorPriv, err := wire.GenerateKeyPair()
	require.NoError(t, err)
	url := wsURL(t, httpSrv, initiatorPub)

	initiator := dialRawClient(t, url)
	initiator.priv = initiatorPriv
	initiator.pub = initiatorPub
	initiator.box = wire.NewBox(initiator.priv, initiator.serverPub)
	initiator.authenticateAsInitiator()

	missing := wire.Slot(0x05)
	payload := []byte("nobody home")
	relayNonce := wire.NewNonce(initiator.cookie, wire.SlotInitiator, missing, initiator.nextCSN())
	relayFrame := append(append([]byte{}, relayNonce[:]...), payload...)
	want := wire.HashWire(relayFrame)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, initiator.conn.Write(ctx, websocket.MessageBinary, relayFrame))
	cancel()

	_, m := initiator.readEncrypted()
	require.Equal(t, "send-error", m["type"])
	gotID, ok := m["id"].([]byte)
	require.True(t, ok)
	require.Equal(t, want[:], gotID)

	initiator.conn.Close(websocket.StatusNormalClosure, "")
	srv.Shutdown(2 * time.Second)
}

func TestSecondInitiatorDisplacesTheFirst(t *testing.T) {
	srv, err := New(nil, nil, nil)
	require.NoError(t, err)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	initiatorPub, initiatorPriv, err := wire.GenerateKeyPair()
	require.NoError(t, err)
	url := wsURL(t, httpSrv, initiatorPub)

	first := dialRawClient(t, url)
	first.priv = initiatorPriv
	first.pub = initiatorPub
	first.box = wire.NewBox(first.priv, first.serverPub)
	first.authenticateAsInitiator()

	second := dialRawClient(t, url)
	second.priv = initiatorPriv
	second.pub = initiatorPub
	second.box = wire.NewBox(second.priv, second.serverPub)
	responderIDs := second.authenticateAsInitiator()
	require.Empty(t, responderIDs, "the displacing initiator has no responders of its own yet")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = first.conn.Read(ctx)
	require.Equal(t, 3004, int(websocket.CloseStatus(err)))

	second.conn.Close(websocket.StatusNormalClosure, "")
	srv.Shutdown(2 * time.Second)
}
