package socket_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cocode/middleware"
	"cocode/router"
	"cocode/socket"
)

type testServer struct {
	hub  *socket.Hub
	gate *middleware.AdmissionGate
	http *httptest.Server
	ws   string
}

func newTestServer(t *testing.T, maxPerIP int, allowedOrigins []string, checkOrigin bool) *testServer {
	t.Helper()
	gate := middleware.NewAdmissionGate(maxPerIP, allowedOrigins, checkOrigin)
	hub := socket.NewHub(gate.Limiter)
	go hub.Run()

	srv := httptest.NewServer(router.Setup(hub, gate))
	t.Cleanup(srv.Close)

	return &testServer{
		hub:  hub,
		gate: gate,
		http: srv,
		ws:   "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (ts *testServer) dial(t *testing.T, room string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.ws+"/ws/"+room, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForMembers(t *testing.T, ts *testServer, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return ts.hub.RoomSize(room) == n },
		2*time.Second, 10*time.Millisecond, "room %s never reached %d members", room, n)
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read frame from WebSocket")
	return data
}

func TestRelayFansOutToOtherMembers(t *testing.T) {
	ts := newTestServer(t, 10, nil, false)

	conn1 := ts.dial(t, "room1")
	conn2 := ts.dial(t, "room1")
	conn3 := ts.dial(t, "room1")
	waitForMembers(t, ts, "room1", 3)

	frame := []byte(`{"type":"update","ops":[]}`)
	require.NoError(t, conn1.WriteMessage(websocket.TextMessage, frame))

	// The frame reaches the other members byte-for-byte and never echoes
	// back to the sender.
	assert.Equal(t, frame, readFrame(t, conn2))
	assert.Equal(t, frame, readFrame(t, conn3))

	conn1.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn1.ReadMessage()
	assert.Error(t, err, "sender must not receive its own frame")
}

func TestRelayIsOpaque(t *testing.T) {
	ts := newTestServer(t, 10, nil, false)

	conn1 := ts.dial(t, "room1")
	conn2 := ts.dial(t, "room1")
	waitForMembers(t, ts, "room1", 2)

	// Not valid protocol JSON; the relay forwards it regardless and the
	// room stays usable.
	garbage := []byte("\x00\x01 not json at all")
	require.NoError(t, conn1.WriteMessage(websocket.TextMessage, garbage))
	assert.Equal(t, garbage, readFrame(t, conn2))

	frame := []byte(`{"type":"awareness"}`)
	require.NoError(t, conn1.WriteMessage(websocket.TextMessage, frame))
	assert.Equal(t, frame, readFrame(t, conn2))
}

func TestRoomIsolation(t *testing.T) {
	ts := newTestServer(t, 10, nil, false)

	abc1 := ts.dial(t, "abc")
	abc2 := ts.dial(t, "abc")
	xyz := ts.dial(t, "xyz")
	waitForMembers(t, ts, "abc", 2)
	waitForMembers(t, ts, "xyz", 1)

	require.NoError(t, abc1.WriteMessage(websocket.TextMessage, []byte("hello abc")))
	assert.Equal(t, []byte("hello abc"), readFrame(t, abc2))

	xyz.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := xyz.ReadMessage()
	assert.Error(t, err, "a frame for room abc must never reach room xyz")
}

func TestRoomKeySanitizedOnJoin(t *testing.T) {
	ts := newTestServer(t, 10, nil, false)

	// Both paths sanitize to the same room, so the clients can talk.
	conn1 := ts.dial(t, "my..room..")
	conn2 := ts.dial(t, "myroom")
	waitForMembers(t, ts, "myroom", 2)

	require.NoError(t, conn1.WriteMessage(websocket.TextMessage, []byte("hi")))
	assert.Equal(t, []byte("hi"), readFrame(t, conn2))
}

func TestEmptyRoomTornDown(t *testing.T) {
	ts := newTestServer(t, 10, nil, false)

	conn := ts.dial(t, "ephemeral")
	waitForMembers(t, ts, "ephemeral", 1)

	conn.Close()
	waitForMembers(t, ts, "ephemeral", 0)

	// The admission slot is released together with the membership.
	require.Eventually(t, func() bool {
		return ts.gate.Limiter.Count("127.0.0.1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEleventhConnectionRateLimited(t *testing.T) {
	ts := newTestServer(t, 10, nil, false)

	for i := 0; i < 10; i++ {
		ts.dial(t, "busy")
	}
	waitForMembers(t, ts, "busy", 10)

	_, resp, err := websocket.DefaultDialer.Dial(ts.ws+"/ws/busy", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestForbiddenOriginRejected(t *testing.T) {
	ts := newTestServer(t, 10, []string{"http://allowed.example"}, true)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(ts.ws+"/ws/room1", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://allowed.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(ts.ws+"/ws/room1", header)
	require.NoError(t, err)
	conn.Close()
}
