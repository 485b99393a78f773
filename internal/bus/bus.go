// Package bus carries room broadcasts between relay processes so that
// members connected to different nodes still receive each other's events.
package bus

import "encoding/json"

// Envelope is one room emission as it travels between nodes. Frame is the
// encoded outbound frame, delivered as-is to the room's local members.
type Envelope struct {
	Node    string          `json:"node"`
	Room    string          `json:"room"`
	Exclude string          `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}

// Bus publishes local emissions and delivers remote ones.
type Bus interface {
	Publish(env Envelope) error
	Subscribe(handler func(Envelope)) error
	Close() error
}

// Local is the Bus of a single-node deployment: nothing leaves the process.
type Local struct{}

func (Local) Publish(Envelope) error { return nil }

func (Local) Subscribe(func(Envelope)) error { return nil }

func (Local) Close() error { return nil }
