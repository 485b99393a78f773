package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/presence"
	"github.com/Tyrowin/chatrelay/internal/relay"
)

const testOrigin = "http://localhost:3000"

type testEnv struct {
	hub   *relay.Hub
	srv   *httptest.Server
	wsURL string
}

type envOptions struct {
	settings func(*config.RelayConfig)
	origins  []string
	tracker  presence.Tracker
}

// startTestServer runs a hub and an httptest server in front of it. Both are
// stopped when the test ends.
func startTestServer(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	settings := config.Default().Relay
	if opts.settings != nil {
		opts.settings(&settings)
	}
	origins := opts.origins
	if origins == nil {
		origins = []string{testOrigin}
	}

	hub := relay.NewHub(relay.WithLogger(zap.NewNop()), relay.WithSettings(settings))
	go hub.Run()

	s := New(hub, opts.tracker, origins, zap.NewNop())
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		if err := hub.Shutdown(2 * time.Second); err != nil {
			t.Errorf("Hub shutdown: %v", err)
		}
	})

	return &testEnv{
		hub:   hub,
		srv:   srv,
		wsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

// dialWithOrigin opens a WebSocket to env with the given Origin header.
func dialWithOrigin(env *testEnv, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return dialer.Dial(env.wsURL, headers)
}

// dial opens a WebSocket from the allowed test origin.
func dial(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialWithOrigin(env, testOrigin)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// emit sends one event frame. data is marshaled unless it is already raw JSON.
func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	var raw json.RawMessage
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("Failed to marshal %s data: %v", event, err)
		}
		raw = b
	}
	if err := conn.WriteJSON(relay.Frame{Event: event, Data: raw}); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

// expectFrame reads the next frame and checks its event name.
func expectFrame(t *testing.T, conn *websocket.Conn, event string) relay.Frame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var f relay.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("Expected %s frame, read failed: %v", event, err)
	}
	if f.Event != event {
		t.Fatalf("Expected %s frame, got %s", event, f.Event)
	}
	return f
}

// expectNoFrame asserts nothing arrives within timeout. A timed-out
// connection cannot be read again, so call it last for a given conn.
func expectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Errorf("Expected no frame, got %s", msg)
	}
}

// setupUser runs setup and waits for the connected acknowledgement.
func setupUser(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	emit(t, conn, relay.EventSetup, map[string]string{"_id": userID})
	expectFrame(t, conn, relay.EventConnected)
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// joinRoom joins room and waits until the hub shows size members.
func joinRoom(t *testing.T, env *testEnv, conn *websocket.Conn, room string, size int) {
	t.Helper()
	emit(t, conn, relay.EventJoinRoom, room)
	waitFor(t, "room "+room+" to reach its size", func() bool {
		return env.hub.Rooms().Size(room) == size
	})
}

func chatMessage(content, sender string, users ...string) map[string]any {
	refs := make([]map[string]string, 0, len(users))
	for _, u := range users {
		refs = append(refs, map[string]string{"_id": u})
	}
	return map[string]any{
		"content": content,
		"sender":  map[string]string{"_id": sender},
		"chat":    map[string]any{"_id": "chat-1", "users": refs},
	}
}
