package bus

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"go.uber.org/zap/zaptest"
)

func connectNode(t *testing.T, url, node string) *NATS {
	t.Helper()
	n, err := Connect(NATSConfig{URL: url, Subject: "test.emit", Node: node}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Connect(%s) returned error: %v", node, err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// TestNATSDeliversToOtherNodes verifies that an envelope published on one node
// reaches the other node's handler and not the publisher's own.
func TestNATSDeliversToOtherNodes(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	a := connectNode(t, srv.ClientURL(), "a")
	b := connectNode(t, srv.ClientURL(), "b")

	gotA := make(chan Envelope, 1)
	gotB := make(chan Envelope, 1)
	if err := a.Subscribe(func(env Envelope) { gotA <- env }); err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	if err := b.Subscribe(func(env Envelope) { gotB <- env }); err != nil {
		t.Fatalf("Subscribe b: %v", err)
	}
	if err := a.nc.Flush(); err != nil {
		t.Fatalf("Flush a: %v", err)
	}
	if err := b.nc.Flush(); err != nil {
		t.Fatalf("Flush b: %v", err)
	}

	frame := json.RawMessage(`{"event":"typing"}`)
	if err := a.Publish(Envelope{Room: "chat-1", Exclude: "conn-1", Frame: frame}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	select {
	case env := <-gotB:
		if env.Node != "a" || env.Room != "chat-1" || env.Exclude != "conn-1" {
			t.Errorf("Unexpected envelope: %+v", env)
		}
		if string(env.Frame) != string(frame) {
			t.Errorf("Expected frame %s, got %s", frame, env.Frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Node b did not receive the envelope")
	}

	select {
	case env := <-gotA:
		t.Errorf("Publisher received its own envelope: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestNATSSubscribeTwice verifies that a bus accepts a single handler.
func TestNATSSubscribeTwice(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	n := connectNode(t, srv.ClientURL(), "a")
	if err := n.Subscribe(func(Envelope) {}); err != nil {
		t.Fatalf("First Subscribe returned error: %v", err)
	}
	if err := n.Subscribe(func(Envelope) {}); err == nil {
		t.Error("Expected second Subscribe to fail")
	}
}

// TestConnectValidation checks required settings are enforced before dialing.
func TestConnectValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  NATSConfig
	}{
		{name: "missing subject", cfg: NATSConfig{URL: "nats://127.0.0.1:1", Node: "a"}},
		{name: "missing node", cfg: NATSConfig{URL: "nats://127.0.0.1:1", Subject: "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Connect(tt.cfg, zaptest.NewLogger(t)); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

// TestLocal verifies the single-node bus is inert.
func TestLocal(t *testing.T) {
	var b Bus = Local{}
	if err := b.Subscribe(func(Envelope) { t.Error("Local delivered an envelope") }); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if err := b.Publish(Envelope{Room: "r"}); err != nil {
		t.Errorf("Publish returned error: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}
