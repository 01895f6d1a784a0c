package room

import "time"

// Conn is the connection handle the registry tracks for each participant.
//
// Implementations must be safe for concurrent use; the registry only compares
// handles for identity and hands them back to callers, it never sends on them
// itself.
type Conn interface {
	// Send writes a single text frame. It must not block on the peer.
	Send(data []byte) error

	// Close closes the connection with a WebSocket close code and reason.
	Close(code int, reason string) error

	// Open reports whether the connection can still accept writes.
	Open() bool
}

// Room is the pairing unit: one creator, at most one joiner.
//
// All fields are owned by the Registry and must only be mutated through its
// operations.
type Room struct {
	id           string
	creator      Conn
	joiner       Conn
	createdAt    time.Time
	lastActivity time.Time
}

func (r *Room) ID() string { return r.id }

func (r *Room) Creator() Conn { return r.creator }

// Joiner returns the second participant, or nil while the room is unpaired.
func (r *Room) Joiner() Conn { return r.joiner }

func (r *Room) CreatedAt() time.Time { return r.createdAt }

func (r *Room) LastActivity() time.Time { return r.lastActivity }

// Paired reports whether a joiner has arrived.
func (r *Room) Paired() bool { return r.joiner != nil }

// Other returns the participant opposite to sender, or nil when sender is not
// a participant of this room.
func (r *Room) Other(sender Conn) Conn {
	switch sender {
	case r.creator:
		return r.joiner
	case r.joiner:
		return r.creator
	default:
		return nil
	}
}

// Info is a read-only snapshot of a room for the stats surface.
type Info struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	HasJoiner    bool      `json:"hasJoiner"`
}
