// Package presence mirrors which users currently have a live relay
// connection into shared storage, so other processes can ask whether a user
// is online.
package presence

import "context"

// Tracker records user presence. Online and Offline must not block the caller;
// implementations queue the work and apply it in the background.
type Tracker interface {
	Online(userID, connID string)
	Offline(userID, connID string)
	Lookup(ctx context.Context, userID string) (bool, error)
	Close() error
}

// Nop is the Tracker used when no presence store is configured.
type Nop struct{}

func (Nop) Online(string, string) {}

func (Nop) Offline(string, string) {}

func (Nop) Lookup(context.Context, string) (bool, error) { return false, nil }

func (Nop) Close() error { return nil }
