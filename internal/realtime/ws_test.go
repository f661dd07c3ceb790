// ABOUTME: End-to-end tests for the websocket transport
// ABOUTME: Real sockets against httptest with bearer and cookie handshakes

package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle/internal/auth"
)

type wsFixture struct {
	*fixture
	server   *httptest.Server
	verifier *auth.JWTVerifier
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	f := newFixture(t)
	verifier, err := auth.NewJWTVerifier([]byte("websocket-test-secret-0123456789abcdef"))
	require.NoError(t, err)

	resolver := auth.NewResolver(verifier, f.store, nil)
	transport := NewTransport(TransportConfig{WriteTimeout: time.Second, PingInterval: time.Second}, resolver, f.registry, f.router, f.nonces, nil)
	server := httptest.NewServer(transport)
	t.Cleanup(func() {
		server.CloseClientConnections()
		transport.Shutdown(t.Context())
		server.Close()
	})
	return &wsFixture{fixture: f, server: server, verifier: verifier}
}

func (w *wsFixture) url() string {
	return "ws" + strings.TrimPrefix(w.server.URL, "http")
}

func (w *wsFixture) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(w.url(), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var ready Event
	require.NoError(t, conn.ReadJSON(&ready))
	require.Equal(t, EventReady, ready.Type)
	return conn
}

func (w *wsFixture) bearer(t *testing.T, p auth.Principal) http.Header {
	t.Helper()
	token, err := w.verifier.Generate(p.ID, time.Hour)
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + token}}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestTransport_RejectsUnauthenticatedHandshake(t *testing.T) {
	w := newWSFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(w.url(), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, w.registry.Count())

	_, resp, err = websocket.DefaultDialer.Dial(w.url(), http.Header{"Authorization": {"Bearer forged"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTransport_GroupChatOverSockets(t *testing.T) {
	w := newWSFixture(t)

	amyToken, err := w.verifier.Generate(w.amy.ID, time.Hour)
	require.NoError(t, err)
	amy := w.dial(t, http.Header{"Cookie": {auth.DefaultCookieName + "=" + amyToken}})
	bob := w.dial(t, w.bearer(t, w.bob))

	require.NoError(t, amy.WriteJSON(Frame{Type: FrameJoin, RoomID: w.groupRoom}))
	assert.Equal(t, "amy joined", readEvent(t, amy).Text)
	require.NoError(t, bob.WriteJSON(Frame{Type: FrameJoin, RoomID: w.groupRoom}))
	assert.Equal(t, "bob joined", readEvent(t, amy).Text)
	assert.Equal(t, "bob joined", readEvent(t, bob).Text)

	require.NoError(t, bob.WriteJSON(Frame{Type: FrameSend, RoomID: w.groupRoom, Content: "hello amy"}))
	for _, c := range []*websocket.Conn{amy, bob} {
		ev := readEvent(t, c)
		require.Equal(t, EventMessage, ev.Type)
		assert.Equal(t, "hello amy", ev.Message.Content)
		assert.Equal(t, "bob", ev.Message.SenderDisplayName)
	}
}

func TestTransport_MalformedFrame(t *testing.T) {
	w := newWSFixture(t)
	amy := w.dial(t, w.bearer(t, w.amy))

	require.NoError(t, amy.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev := readEvent(t, amy)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "invalid_frame", ev.Reason)
}
