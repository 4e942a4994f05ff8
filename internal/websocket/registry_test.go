package websocket

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gatekeeper/pkg/types"
)

// newConnPair upgrades a real WebSocket over a loopback server and returns
// the server-side Connection plus the client end for observing delivery.
func newConnPair(t *testing.T, clientID string) (*Connection, *websocket.Conn) {
	t.Helper()

	serverConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-serverConnCh
	conn := NewConnection(serverConn, clientID, 16, time.Second)
	t.Cleanup(func() { conn.Close() })

	return conn, clientConn
}

func readFrame(t *testing.T, clientConn *websocket.Conn) []byte {
	t.Helper()
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a frame, got error: %v", err)
	}
	return data
}

func expectNoFrame(t *testing.T, clientConn *websocket.Conn) {
	t.Helper()
	clientConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, data, err := clientConn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %s", data)
	}
	if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
		t.Fatalf("expected read timeout, got: %v", err)
	}
}

func expectCloseCode(t *testing.T, clientConn *websocket.Conn, code int) {
	t.Helper()
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := clientConn.ReadMessage()
	if !websocket.IsCloseError(err, code) {
		t.Fatalf("expected close code %d, got: %v", code, err)
	}
}

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewRegistry(16 * 1024)
	conn, _ := newConnPair(t, "alice")

	if err := r.Register(conn); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", r.Count())
	}

	snapshot := r.Snapshot()
	if _, ok := snapshot.Connections["alice"]; !ok {
		t.Error("snapshot should include the registered session")
	}

	r.Unregister("alice", conn)
	if r.Count() != 0 {
		t.Errorf("expected 0 sessions after unregister, got %d", r.Count())
	}

	// Second unregister is a no-op.
	r.Unregister("alice", conn)
}

func TestRegistry_RegisterNil(t *testing.T) {
	r := NewRegistry(16 * 1024)
	if err := r.Register(nil); err != ErrNilConnection {
		t.Errorf("expected ErrNilConnection, got %v", err)
	}
}

func TestRegistry_RegisterInvalidID(t *testing.T) {
	r := NewRegistry(16 * 1024)
	conn, _ := newConnPair(t, "")

	if err := r.Register(conn); err != types.ErrInvalidClientID {
		t.Errorf("expected ErrInvalidClientID, got %v", err)
	}
	if r.Count() != 0 {
		t.Error("rejected registration must not create session state")
	}
}

func TestRegistry_CollisionEvictsPrevious(t *testing.T) {
	r := NewRegistry(16 * 1024)
	first, firstClient := newConnPair(t, "dup")
	second, secondClient := newConnPair(t, "dup")

	if err := r.Register(first); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.Register(second); err != nil {
		t.Fatalf("second register failed: %v", err)
	}

	if r.Count() != 1 {
		t.Fatalf("expected 1 session after collision, got %d", r.Count())
	}

	// The displaced peer gets a policy-violation close.
	expectCloseCode(t, firstClient, websocket.ClosePolicyViolation)

	// Delivery goes to the replacement.
	if !r.Send("dup", []byte(`{"probe":true}`)) {
		t.Fatal("send to the replacement session failed")
	}
	if got := string(readFrame(t, secondClient)); got != `{"probe":true}` {
		t.Errorf("replacement received %s", got)
	}
}

func TestRegistry_UnregisterIgnoresStaleHandle(t *testing.T) {
	r := NewRegistry(16 * 1024)
	first, _ := newConnPair(t, "dup")
	second, _ := newConnPair(t, "dup")

	r.Register(first)
	r.Register(second)

	// The evicted connection's deferred cleanup must not tear down the
	// replacement.
	r.Unregister("dup", first)
	if r.Count() != 1 {
		t.Errorf("stale unregister removed the replacement, count=%d", r.Count())
	}

	r.Unregister("dup", second)
	if r.Count() != 0 {
		t.Errorf("expected 0 sessions, got %d", r.Count())
	}
}

func TestRegistry_DisconnectIdempotent(t *testing.T) {
	r := NewRegistry(16 * 1024)
	conn, _ := newConnPair(t, "alice")
	r.Register(conn)

	r.Disconnect("alice")
	if r.Count() != 0 {
		t.Fatalf("expected 0 sessions, got %d", r.Count())
	}

	r.Disconnect("alice")
	r.Disconnect("never-existed")
}

func TestRegistry_SendUnknownID(t *testing.T) {
	r := NewRegistry(16 * 1024)
	if r.Send("ghost", []byte("hello")) {
		t.Error("send to an unknown id should report failure")
	}
}

func TestRegistry_SendSizeCeiling(t *testing.T) {
	const ceiling = 64
	r := NewRegistry(ceiling)
	conn, clientConn := newConnPair(t, "alice")
	r.Register(conn)

	// Exactly at the ceiling passes.
	exact := make([]byte, ceiling)
	for i := range exact {
		exact[i] = 'x'
	}
	if !r.Send("alice", exact) {
		t.Fatal("payload at the ceiling should be delivered")
	}
	if got := readFrame(t, clientConn); len(got) != ceiling {
		t.Fatalf("expected %d bytes, got %d", ceiling, len(got))
	}

	// One byte over is rejected with a structured error; the session stays.
	over := append(exact, 'x')
	if r.Send("alice", over) {
		t.Fatal("payload over the ceiling should not be delivered")
	}

	var rejection types.OversizeError
	if err := json.Unmarshal(readFrame(t, clientConn), &rejection); err != nil {
		t.Fatalf("expected an oversize error frame: %v", err)
	}
	if rejection.Error != "Message too large" {
		t.Errorf("unexpected error text: %q", rejection.Error)
	}
	if rejection.MaxSizeBytes != ceiling || rejection.ReceivedSizeBytes != ceiling+1 {
		t.Errorf("expected max=%d received=%d, got max=%d received=%d",
			ceiling, ceiling+1, rejection.MaxSizeBytes, rejection.ReceivedSizeBytes)
	}

	if r.Count() != 1 {
		t.Error("oversize rejection must not evict the session")
	}

	// Counters reflect only the delivered payload.
	stats := r.Snapshot().Connections["alice"]
	if stats.MessagesSent != 1 {
		t.Errorf("expected 1 sent message, got %d", stats.MessagesSent)
	}
	if stats.BytesSent != ceiling {
		t.Errorf("expected %d bytes sent, got %d", ceiling, stats.BytesSent)
	}
}

func TestRegistry_SendTransportFailureEvicts(t *testing.T) {
	r := NewRegistry(16 * 1024)
	conn, _ := newConnPair(t, "alice")
	r.Register(conn)

	conn.Close()

	if r.Send("alice", []byte("hello")) {
		t.Error("send on a dead connection should report failure")
	}
	if r.Count() != 0 {
		t.Errorf("transport failure should evict, count=%d", r.Count())
	}
}

func TestRegistry_BroadcastIsolation(t *testing.T) {
	r := NewRegistry(16 * 1024)

	connA, clientA := newConnPair(t, "a")
	connB, clientB := newConnPair(t, "b")
	connC, _ := newConnPair(t, "c")

	r.Register(connA)
	r.Register(connB)
	r.Register(connC)

	// c's transport dies; a broadcast must still reach b and must not loop
	// back to the sender.
	connC.Close()

	r.Broadcast([]byte(`{"note":"hi"}`), "a")

	if got := string(readFrame(t, clientB)); got != `{"note":"hi"}` {
		t.Errorf("b received %s", got)
	}
	expectNoFrame(t, clientA)

	if r.Count() != 2 {
		t.Errorf("failed session should be evicted after the sweep, count=%d", r.Count())
	}
	if _, ok := r.Snapshot().Connections["c"]; ok {
		t.Error("evicted session still present in snapshot")
	}
}

func TestRegistry_RecordReceive(t *testing.T) {
	r := NewRegistry(16 * 1024)
	conn, _ := newConnPair(t, "alice")
	r.Register(conn)

	r.RecordReceive("alice", 120)
	r.RecordReceive("alice", 30)
	r.RecordReceive("ghost", 999)

	stats := r.Snapshot().Connections["alice"]
	if stats.MessagesReceived != 2 {
		t.Errorf("expected 2 received messages, got %d", stats.MessagesReceived)
	}
	if stats.BytesReceived != 150 {
		t.Errorf("expected 150 bytes received, got %d", stats.BytesReceived)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(16 * 1024)
	for _, id := range []string{"a", "b", "c"} {
		conn, _ := newConnPair(t, id)
		r.Register(conn)
	}

	r.CloseAll()
	if r.Count() != 0 {
		t.Errorf("expected 0 sessions after close all, got %d", r.Count())
	}
}

func TestRegistry_SendJSON(t *testing.T) {
	r := NewRegistry(16 * 1024)
	conn, clientConn := newConnPair(t, "alice")
	r.Register(conn)

	if !r.SendJSON("alice", types.Pong{Type: types.FramePong, Timestamp: 123.5}) {
		t.Fatal("send failed")
	}

	var frame types.Pong
	if err := json.Unmarshal(readFrame(t, clientConn), &frame); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if frame.Type != types.FramePong || frame.Timestamp != 123.5 {
		t.Errorf("unexpected frame: %+v", frame)
	}
}
