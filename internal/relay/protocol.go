package relay

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Event names carried in the "event" field of a frame.
const (
	EventSetup           = "setup"
	EventJoinRoom        = "join-room"
	EventTyping          = "typing"
	EventStopTyping      = "stop-typing"
	EventNewMessage      = "new-message"
	EventConnected       = "connected"
	EventMessageReceived = "message-received"
)

var (
	// ErrMalformedPayload marks a frame whose required fields are missing or
	// have the wrong shape. Such frames are dropped after a diagnostic.
	ErrMalformedPayload = errors.New("malformed event payload")
	// ErrUnknownEvent marks a well-formed frame with an unrecognized event name.
	ErrUnknownEvent = errors.New("unknown event")
)

// Frame is the JSON envelope exchanged in both directions over a connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals an outbound frame. A nil data yields a signal-only frame.
func EncodeFrame(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

// Request is a validated inbound event.
type Request interface {
	Event() string
}

// Setup joins the connection to the user's private inbox room.
type Setup struct {
	UserID string
}

// JoinRoom joins the connection to a conversation room.
type JoinRoom struct {
	Room string
}

// Typing signals typing activity in a room. Stopped selects stop-typing.
type Typing struct {
	Room    string
	Stopped bool
}

// NewMessage announces a chat message to every participant but the sender.
// Payload is the original data, forwarded untouched.
type NewMessage struct {
	SenderID   string
	Recipients []string
	Payload    json.RawMessage
}

func (Setup) Event() string    { return EventSetup }
func (JoinRoom) Event() string { return EventJoinRoom }
func (NewMessage) Event() string {
	return EventNewMessage
}

func (t Typing) Event() string {
	if t.Stopped {
		return EventStopTyping
	}
	return EventTyping
}

type userRef struct {
	ID string `json:"_id"`
}

type chatMessage struct {
	Sender *userRef `json:"sender"`
	Chat   *struct {
		Users []userRef `json:"users"`
	} `json:"chat"`
}

// ParseRequest decodes one inbound frame into its typed request. Errors wrap
// ErrMalformedPayload or ErrUnknownEvent.
func ParseRequest(raw []byte) (Request, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrapf(ErrMalformedPayload, "decode frame: %v", err)
	}
	if f.Event == "" {
		return nil, errors.Wrap(ErrMalformedPayload, "frame has no event")
	}

	switch f.Event {
	case EventSetup:
		var user userRef
		if err := decodeData(f, &user); err != nil {
			return nil, err
		}
		if user.ID == "" {
			return nil, malformed(f.Event, "_id")
		}
		return Setup{UserID: user.ID}, nil

	case EventJoinRoom:
		room, err := decodeRoom(f)
		if err != nil {
			return nil, err
		}
		return JoinRoom{Room: room}, nil

	case EventTyping, EventStopTyping:
		room, err := decodeRoom(f)
		if err != nil {
			return nil, err
		}
		return Typing{Room: room, Stopped: f.Event == EventStopTyping}, nil

	case EventNewMessage:
		return parseNewMessage(f)
	}

	return nil, errors.Wrapf(ErrUnknownEvent, "%q", f.Event)
}

func parseNewMessage(f Frame) (Request, error) {
	var msg chatMessage
	if err := decodeData(f, &msg); err != nil {
		return nil, err
	}
	if msg.Chat == nil || msg.Chat.Users == nil {
		return nil, malformed(f.Event, "chat.users")
	}
	if msg.Sender == nil || msg.Sender.ID == "" {
		return nil, malformed(f.Event, "sender._id")
	}

	seen := make(map[string]struct{}, len(msg.Chat.Users))
	recipients := make([]string, 0, len(msg.Chat.Users))
	for _, u := range msg.Chat.Users {
		if u.ID == "" {
			continue
		}
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		recipients = append(recipients, u.ID)
	}

	return NewMessage{
		SenderID:   msg.Sender.ID,
		Recipients: recipients,
		Payload:    f.Data,
	}, nil
}

func decodeData(f Frame, v any) error {
	if len(f.Data) == 0 || bytes.Equal(f.Data, []byte("null")) {
		return malformed(f.Event, "data")
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return errors.Wrapf(ErrMalformedPayload, "%s: %v", f.Event, err)
	}
	return nil
}

func decodeRoom(f Frame) (string, error) {
	var room string
	if err := decodeData(f, &room); err != nil {
		return "", err
	}
	if room == "" {
		return "", malformed(f.Event, "room")
	}
	return room, nil
}

func malformed(event, field string) error {
	return errors.Wrapf(ErrMalformedPayload, "%s: missing %s", event, field)
}
