package relay

import "sync"

// Rooms is the room membership index. It maps a room id to the connections
// that joined it and each connection back to its rooms, so that a
// disconnect can drop every membership in one call. Empty rooms are removed.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[*Client]struct{}
	joined  map[*Client]map[string]struct{}
}

// NewRooms returns an empty index.
func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[*Client]struct{}),
		joined:  make(map[*Client]map[string]struct{}),
	}
}

// Join adds c to room and reports whether it was not already a member.
func (r *Rooms) Join(c *Client, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.members[room]
	if set == nil {
		set = make(map[*Client]struct{})
		r.members[room] = set
	}
	if _, ok := set[c]; ok {
		return false
	}
	set[c] = struct{}{}

	rooms := r.joined[c]
	if rooms == nil {
		rooms = make(map[string]struct{})
		r.joined[c] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// LeaveAll removes c from every room it joined and returns those rooms.
func (r *Rooms) LeaveAll(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.joined[c]
	delete(r.joined, c)

	left := make([]string, 0, len(rooms))
	for room := range rooms {
		left = append(left, room)
		set := r.members[room]
		delete(set, c)
		if len(set) == 0 {
			delete(r.members, room)
		}
	}
	return left
}

// Broadcast queues frame on every member of room except exclude. Members
// whose queue cannot take the frame are skipped and returned as stale; the
// rest of the fan-out still proceeds.
func (r *Rooms) Broadcast(room string, frame []byte, exclude *Client) (delivered int, stale []*Client) {
	for _, c := range r.Members(room) {
		if c == exclude {
			continue
		}
		if !c.enqueue(frame) {
			stale = append(stale, c)
			continue
		}
		delivered++
	}
	return delivered, stale
}

// Members returns a snapshot of the connections in room.
func (r *Rooms) Members(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.members[room]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Size returns the number of connections in room.
func (r *Rooms) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[room])
}

// RoomsOf returns the rooms c has joined.
func (r *Rooms) RoomsOf(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.joined[c]))
	for room := range r.joined[c] {
		out = append(out, room)
	}
	return out
}

// Len returns the number of non-empty rooms.
func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
