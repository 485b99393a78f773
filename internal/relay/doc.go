// Package relay implements the real-time event relay of the chat backend.
//
// Each WebSocket connection is a Client with its own read and write pumps.
// Inbound frames are parsed into typed requests at the read boundary and
// handed to the Hub, whose single event loop owns the Rooms index and runs
// every handler to completion before taking the next event. Outbound frames
// are queued on the recipients' send channels without blocking; a recipient
// whose queue is full is evicted instead of slowing the fan-out.
//
// Rooms are plain string ids: a user id names that user's private inbox room
// (joined on setup) and a chat id names a conversation room (joined on
// join-room). Delivery is fire-and-forget and never reaches the connection
// that originated the event.
package relay
