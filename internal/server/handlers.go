package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatrelay/internal/presence"
	"github.com/Tyrowin/chatrelay/internal/relay"
)

const presenceLookupTimeout = 2 * time.Second

// Server holds the HTTP handlers in front of a relay hub.
type Server struct {
	hub      *relay.Hub
	presence presence.Tracker
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New builds the HTTP layer. allowedOrigins lists the browser origins that
// may open WebSocket connections; "*" allows any.
func New(hub *relay.Hub, tracker presence.Tracker, allowedOrigins []string, log *zap.Logger) *Server {
	if tracker == nil {
		tracker = presence.Nop{}
	}
	log = log.Named("http")
	origins := newOriginPolicy(allowedOrigins, log)

	return &Server{
		hub:      hub,
		presence: tracker,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}
}

// WebSocketHandler upgrades GET requests to WebSocket and registers the new
// connection with the hub, which starts its read and write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := relay.NewClient(conn, s.hub, r.RemoteAddr)
	if !s.hub.Register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// RootHandler answers plain-text liveness probes on "/".
func (s *Server) RootHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "API is running!")
}

type healthResponse struct {
	Status string `json:"status"`
	relay.Stats
}

// HealthHandler reports connection and room counts as JSON.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Stats: s.hub.Stats()})
}

type presenceResponse struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// PresenceHandler reports whether a user has a live connection on this node
// or, when a presence store is configured, on any node.
func (s *Server) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if userID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user id required"})
		return
	}

	if s.hub.Online(userID) {
		s.writeJSON(w, http.StatusOK, presenceResponse{UserID: userID, Online: true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), presenceLookupTimeout)
	defer cancel()

	online, err := s.presence.Lookup(ctx, userID)
	if err != nil {
		s.log.Warn("presence lookup failed", zap.String("user", userID), zap.Error(err))
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "presence store unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, presenceResponse{UserID: userID, Online: online})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write json response", zap.Error(err))
	}
}

// TestPageHandler serves an HTML page for trying the event protocol by hand.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Warn("write test page", zap.Error(err))
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .row { margin: 6px 0; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Chat Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div class="row">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div class="row">
        <input type="text" id="userId" placeholder="Your user id">
        <button onclick="emit('setup', {_id: value('userId')})">Setup</button>
    </div>
    <div class="row">
        <input type="text" id="room" placeholder="Chat id">
        <button onclick="emit('join-room', value('room'))">Join room</button>
        <button onclick="emit('typing', value('room'))">Typing</button>
        <button onclick="emit('stop-typing', value('room'))">Stop typing</button>
    </div>
    <div class="row">
        <input type="text" id="members" placeholder="Chat user ids, comma separated">
        <input type="text" id="content" placeholder="Message">
        <button onclick="sendMessage()">Send message</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function value(id) {
            return document.getElementById(id).value.trim();
        }

        function log(direction, text) {
            const line = document.createElement('div');
            line.textContent = direction + ' ' + text;
            eventsDiv.appendChild(line);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() { log('--', 'open'); updateStatus(true); };
            ws.onmessage = function(event) { log('<-', event.data); };
            ws.onclose = function() { log('--', 'closed'); updateStatus(false); ws = null; };
            ws.onerror = function() { log('--', 'error'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function emit(event, data) {
            if (!ws || ws.readyState !== WebSocket.OPEN) {
                log('--', 'not connected');
                return;
            }
            const frame = JSON.stringify({event: event, data: data});
            ws.send(frame);
            log('->', frame);
        }

        function sendMessage() {
            const users = value('members').split(',').map(function(id) {
                return {_id: id.trim()};
            }).filter(function(u) { return u._id !== ''; });
            emit('new-message', {
                content: value('content'),
                sender: {_id: value('userId')},
                chat: {_id: value('room'), users: users}
            });
        }
    </script>
</body>
</html>`
