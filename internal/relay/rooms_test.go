package relay

import (
	"sort"
	"testing"
)

// TestRoomsJoinIdempotent verifies that joining the same room twice leaves
// the membership unchanged.
func TestRoomsJoinIdempotent(t *testing.T) {
	h := NewHub()
	rooms := NewRooms()
	c := NewClient(nil, h, "127.0.0.1:1")

	if !rooms.Join(c, "r1") {
		t.Error("First join should report a new membership")
	}
	if rooms.Join(c, "r1") {
		t.Error("Second join should report an existing membership")
	}
	if n := rooms.Size("r1"); n != 1 {
		t.Errorf("Expected 1 member, got %d", n)
	}
	if got := rooms.RoomsOf(c); len(got) != 1 || got[0] != "r1" {
		t.Errorf("Expected rooms [r1], got %v", got)
	}
}

// TestRoomsLeaveAll verifies that leaving drops every membership and removes
// rooms that become empty.
func TestRoomsLeaveAll(t *testing.T) {
	h := NewHub()
	rooms := NewRooms()
	a := NewClient(nil, h, "127.0.0.1:1")
	b := NewClient(nil, h, "127.0.0.1:2")

	rooms.Join(a, "inbox-a")
	rooms.Join(a, "chat")
	rooms.Join(b, "chat")

	left := rooms.LeaveAll(a)
	sort.Strings(left)
	if len(left) != 2 || left[0] != "chat" || left[1] != "inbox-a" {
		t.Errorf("Expected to leave [chat inbox-a], got %v", left)
	}

	if n := rooms.Size("inbox-a"); n != 0 {
		t.Errorf("Expected inbox-a to be empty, got %d", n)
	}
	if n := rooms.Size("chat"); n != 1 {
		t.Errorf("Expected chat to keep 1 member, got %d", n)
	}
	if n := rooms.Len(); n != 1 {
		t.Errorf("Expected 1 room left in the index, got %d", n)
	}
	if got := rooms.RoomsOf(a); len(got) != 0 {
		t.Errorf("Expected no rooms for a, got %v", got)
	}
	for _, m := range rooms.Members("chat") {
		if m == a {
			t.Error("Departed client still listed as member")
		}
	}

	if left := rooms.LeaveAll(a); len(left) != 0 {
		t.Errorf("Second LeaveAll should be a no-op, got %v", left)
	}
}

// TestRoomsBroadcast tests fan-out to a room. It verifies that the excluded
// client receives nothing, that a full queue is reported as stale, and that
// the remaining members still receive the frame.
func TestRoomsBroadcast(t *testing.T) {
	h := NewHub()
	h.settings.SendBuffer = 1
	rooms := NewRooms()

	sender := NewClient(nil, h, "127.0.0.1:1")
	full := NewClient(nil, h, "127.0.0.1:2")
	ok := NewClient(nil, h, "127.0.0.1:3")
	for _, c := range []*Client{sender, full, ok} {
		rooms.Join(c, "room")
	}
	full.send <- []byte("backlog")

	delivered, stale := rooms.Broadcast("room", []byte("frame"), sender)
	if delivered != 1 {
		t.Errorf("Expected 1 delivery, got %d", delivered)
	}
	if len(stale) != 1 || stale[0] != full {
		t.Errorf("Expected the full client to be stale, got %v", stale)
	}
	if got := <-ok.send; string(got) != "frame" {
		t.Errorf("Expected frame, got %s", got)
	}
	if len(sender.send) != 0 {
		t.Error("Sender received its own broadcast")
	}
}

// TestRoomsBroadcastEmptyRoom verifies broadcasting to an unknown room is a no-op.
func TestRoomsBroadcastEmptyRoom(t *testing.T) {
	rooms := NewRooms()
	delivered, stale := rooms.Broadcast("nobody-here", []byte("frame"), nil)
	if delivered != 0 || len(stale) != 0 {
		t.Errorf("Expected nothing, got delivered=%d stale=%d", delivered, len(stale))
	}
	if rooms.Len() != 0 {
		t.Error("Broadcast must not create rooms")
	}
}
