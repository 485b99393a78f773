package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/chatrelay/internal/bus"
	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/presence"
)

const remoteQueueSize = 1024

// clientRequest is a parsed inbound event waiting for the hub loop.
type clientRequest struct {
	client *Client
	req    Request
}

// Stats is a point-in-time view of the hub for health reporting.
type Stats struct {
	Connections int64 `json:"connections"`
	Rooms       int   `json:"rooms"`
}

// Option customizes a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(h *Hub) { h.log = log }
}

// WithSettings sets the per-connection limits.
func WithSettings(cfg config.RelayConfig) Option {
	return func(h *Hub) { h.settings = cfg }
}

// WithPresence mirrors setup and disconnect into tracker. refresh is how often
// live users are re-announced so their records do not expire.
func WithPresence(tracker presence.Tracker, refresh time.Duration) Option {
	return func(h *Hub) {
		h.presence = tracker
		h.presenceEvery = refresh
	}
}

// WithBus publishes every room broadcast on b and delivers remote ones locally.
func WithBus(b bus.Bus) Option {
	return func(h *Hub) { h.bus = b }
}

// Hub owns every connection and the room index. All state changes happen on
// the goroutine running Run, one event at a time, so handlers never interleave.
type Hub struct {
	rooms    *Rooms
	clients  map[*Client]struct{}
	settings config.RelayConfig
	log      *zap.Logger

	presence      presence.Tracker
	presenceEvery time.Duration
	bus           bus.Bus

	register   chan *Client
	unregister chan *Client
	requests   chan clientRequest
	remote     chan bus.Envelope

	connections atomic.Int64
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewHub creates a Hub ready to Run.
func NewHub(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		rooms:      NewRooms(),
		clients:    make(map[*Client]struct{}),
		settings:   config.Default().Relay,
		log:        zap.NewNop(),
		presence:   presence.Nop{},
		bus:        bus.Local{},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		requests:   make(chan clientRequest),
		remote:     make(chan bus.Envelope, remoteQueueSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named("relay")
	return h
}

// Rooms exposes the room index for read-only inspection.
func (h *Hub) Rooms() *Rooms { return h.rooms }

// Stats returns the current connection and room counts.
func (h *Hub) Stats() Stats {
	return Stats{Connections: h.connections.Load(), Rooms: h.rooms.Len()}
}

// Online reports whether a local connection has run setup for userID.
func (h *Hub) Online(userID string) bool {
	return h.rooms.Size(userID) > 0
}

// Register hands a new connection to the hub, which starts its pumps. It
// returns false if the hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) submit(c *Client, req Request) bool {
	select {
	case h.requests <- clientRequest{client: c, req: req}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) receiveRemote(env bus.Envelope) {
	select {
	case h.remote <- env:
	default:
		h.log.Warn("remote queue full; dropping envelope", zap.String("room", env.Room))
	}
}

// Run is the hub's event loop. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	if err := h.bus.Subscribe(h.receiveRemote); err != nil {
		h.log.Error("subscribe to bus failed; broadcasts stay local", zap.Error(err))
	}

	var refresh <-chan time.Time
	if h.presenceEvery > 0 {
		ticker := time.NewTicker(h.presenceEvery)
		defer ticker.Stop()
		refresh = ticker.C
	}

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case c := <-h.register:
			h.add(c)

		case c := <-h.unregister:
			h.remove(c, "disconnected")

		case r := <-h.requests:
			h.dispatch(r.client, r.req)

		case env := <-h.remote:
			h.deliverRemote(env)

		case <-refresh:
			h.refreshPresence()
		}
	}
}

func (h *Hub) add(c *Client) {
	if c == nil {
		h.log.Warn("received nil client registration; skipping")
		return
	}

	h.clients[c] = struct{}{}
	total := h.connections.Add(1)
	c.log.Info("client registered", zap.Int64("clients", total))

	if c.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

// remove drops every trace of c and closes its queue, which makes the write
// pump send a close frame and shut the socket.
func (h *Hub) remove(c *Client, reason string) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	left := h.rooms.LeaveAll(c)
	for _, user := range c.users {
		h.presence.Offline(user, c.id)
	}
	c.closed = true
	close(c.send)

	total := h.connections.Add(-1)
	c.log.Info("client unregistered", zap.String("reason", reason),
		zap.Int("rooms_left", len(left)), zap.Int64("clients", total))
}

// dispatch runs the handler for one request. Requests from connections that
// were already removed are ignored.
func (h *Hub) dispatch(c *Client, req Request) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch r := req.(type) {
	case Setup:
		h.handleSetup(c, r)
	case JoinRoom:
		h.handleJoinRoom(c, r)
	case Typing:
		h.handleTyping(c, r)
	case NewMessage:
		h.handleNewMessage(c, r)
	default:
		c.log.Warn("no handler for request", zap.String("event", req.Event()))
	}
}

func (h *Hub) handleSetup(c *Client, r Setup) {
	if h.rooms.Join(c, r.UserID) {
		c.users = append(c.users, r.UserID)
	}
	h.presence.Online(r.UserID, c.id)

	frame, err := EncodeFrame(EventConnected, nil)
	if err != nil {
		c.log.Error("encode connected frame", zap.Error(err))
		return
	}
	if !c.enqueue(frame) {
		h.remove(c, "send buffer full")
		return
	}
	c.log.Debug("user setup", zap.String("user", r.UserID))
}

func (h *Hub) handleJoinRoom(c *Client, r JoinRoom) {
	joined := h.rooms.Join(c, r.Room)
	c.log.Info("room joined", zap.String("room", r.Room), zap.Bool("new", joined))
}

func (h *Hub) handleTyping(c *Client, r Typing) {
	frame, err := EncodeFrame(r.Event(), nil)
	if err != nil {
		c.log.Error("encode typing frame", zap.Error(err))
		return
	}
	h.broadcast(r.Room, frame, c)
}

func (h *Hub) handleNewMessage(c *Client, r NewMessage) {
	frame, err := EncodeFrame(EventMessageReceived, r.Payload)
	if err != nil {
		c.log.Warn("dropping new-message", zap.Error(err))
		return
	}

	for _, user := range r.Recipients {
		if user == r.SenderID {
			continue
		}
		h.broadcast(user, frame, c)
	}
}

// broadcast delivers frame to every member of room except the sender,
// evicting members whose queue is full, and forwards it to other nodes.
func (h *Hub) broadcast(room string, frame []byte, sender *Client) int {
	delivered, stale := h.rooms.Broadcast(room, frame, sender)
	for _, c := range stale {
		h.remove(c, "send buffer full")
	}

	env := bus.Envelope{Room: room, Frame: frame}
	if sender != nil {
		env.Exclude = sender.id
	}
	if err := h.bus.Publish(env); err != nil {
		h.log.Warn("publish to bus failed", zap.String("room", room), zap.Error(err))
	}

	h.log.Debug("broadcast", zap.String("room", room), zap.Int("delivered", delivered), zap.Int("stale", len(stale)))
	return delivered
}

// deliverRemote hands a frame from another node to local room members.
func (h *Hub) deliverRemote(env bus.Envelope) {
	_, stale := h.rooms.Broadcast(env.Room, env.Frame, nil)
	for _, c := range stale {
		h.remove(c, "send buffer full")
	}
}

func (h *Hub) refreshPresence() {
	for c := range h.clients {
		for _, user := range c.users {
			h.presence.Online(user, c.id)
		}
	}
}

// shutdownClients closes every queue and socket so the pumps exit.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	count := len(h.clients)
	for c := range h.clients {
		h.remove(c, "shutdown")
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				c.log.Warn("close client connection", zap.Error(err))
			}
		}
	}

	h.log.Info("closed client connections", zap.Int("count", count))
}

// Shutdown stops the event loop and waits for client goroutines to finish,
// or until timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
