package room

import (
	"sync"
	"time"
)

// Registry owns the authoritative id -> Room mapping. Every mutation of a
// room goes through one of its operations; a single mutex serializes them so
// each check-then-act sequence (join, expire, disconnect teardown) is atomic
// with respect to concurrent callers.
//
// No operation blocks on I/O while holding the lock. Operations that end with
// a notification return the connection handles to notify; the caller sends
// after the registry has released the lock.
type Registry struct {
	clock Clock

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = RealClock{}
	}
	return &Registry{
		clock: clock,
		rooms: make(map[string]*Room),
	}
}

// Create allocates a fresh room id and registers a new unpaired room owned by
// creator.
//
// The lock is held across the re-roll loop, so draw time degrades as the
// registry approaches the namespace size; the idSpaceSize guard is the only
// bound on the number of draws. Acceptable at rendezvous scale, where room
// counts stay far below 900k.
func (g *Registry) Create(creator Conn) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.rooms) >= idSpaceSize {
		return nil, ErrNoFreeIDs
	}

	for {
		id, err := newRoomID()
		if err != nil {
			return nil, err
		}
		if _, taken := g.rooms[id]; taken {
			continue
		}

		now := g.clock.Now()
		rm := &Room{
			id:           id,
			creator:      creator,
			createdAt:    now,
			lastActivity: now,
		}
		g.rooms[id] = rm
		return rm, nil
	}
}

// Join installs joiner as the room's second participant and returns the
// creator's handle so the caller can notify it. Returns ErrNotFound when no
// room has that id and ErrFull when the room is already paired.
func (g *Registry) Join(id string, joiner Conn) (Conn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rm, ok := g.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rm.joiner != nil {
		return nil, ErrFull
	}

	rm.joiner = joiner
	rm.lastActivity = g.clock.Now()
	return rm.creator, nil
}

// ForwardTarget resolves the participant opposite to sender in the given
// room, refreshing the room's activity timestamp.
//
// ok is false when the room does not exist or sender is not one of its
// participants. With ok true, target is nil while the room is unpaired.
func (g *Registry) ForwardTarget(id string, sender Conn) (target Conn, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rm, found := g.rooms[id]
	if !found {
		return nil, false
	}
	if sender != rm.creator && sender != rm.joiner {
		return nil, false
	}

	rm.lastActivity = g.clock.Now()
	return rm.Other(sender), true
}

// Get returns the registered room, if any.
//
// The returned Room is live registry state; inspect it only from code that is
// serialized with registry mutation (tests, or callers that own the sole
// reference to the registry).
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm, ok := g.rooms[id]
	return rm, ok
}

func (g *Registry) Remove(id string) {
	g.mu.Lock()
	delete(g.rooms, id)
	g.mu.Unlock()
}

// Touch refreshes the room's lastActivity timestamp.
func (g *Registry) Touch(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rm, ok := g.rooms[id]; ok {
		rm.lastActivity = g.clock.Now()
	}
}

// TouchByConn refreshes the room, if any, that c participates in. Used by
// keepalives, which carry no room id.
//
// The lookup is a linear scan; at most one room can reference a given handle,
// so the first match wins.
func (g *Registry) TouchByConn(c Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, rm := range g.rooms {
		if rm.creator == c || rm.joiner == c {
			rm.lastActivity = g.clock.Now()
			return true
		}
	}
	return false
}

// RemoveIfUnpaired deletes the room only when it is still registered and
// still has no joiner, returning the creator's handle for notification.
//
// This is the action of the one-shot unpaired-room timer; when the room has
// paired or is already gone the call is a no-op.
func (g *Registry) RemoveIfUnpaired(id string) (creator Conn, removed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rm, ok := g.rooms[id]
	if !ok || rm.joiner != nil {
		return nil, false
	}

	delete(g.rooms, id)
	return rm.creator, true
}

// Expired describes a room removed by the idle sweep.
type Expired struct {
	ID    string
	Conns []Conn
}

// SweepIdle removes every room whose last activity is older than timeout,
// regardless of pairing state, and returns the participants of each so the
// caller can close them.
func (g *Registry) SweepIdle(timeout time.Duration) []Expired {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()

	var expired []Expired
	for id, rm := range g.rooms {
		if now.Sub(rm.lastActivity) <= timeout {
			continue
		}

		exp := Expired{ID: id, Conns: []Conn{rm.creator}}
		if rm.joiner != nil {
			exp.Conns = append(exp.Conns, rm.joiner)
		}
		expired = append(expired, exp)
		delete(g.rooms, id)
	}
	return expired
}

// RemoveByConn tears down the room, if any, that c participates in, returning
// the surviving participant (nil when the room was unpaired or c was the only
// live handle).
func (g *Registry) RemoveByConn(c Conn) (id string, other Conn, removed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, rm := range g.rooms {
		if rm.creator != c && rm.joiner != c {
			continue
		}
		delete(g.rooms, id)
		return id, rm.Other(c), true
	}
	return "", nil, false
}

func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Snapshot returns a read-only copy of every registered room for the stats
// surface.
func (g *Registry) Snapshot() []Info {
	g.mu.Lock()
	defer g.mu.Unlock()

	infos := make([]Info, 0, len(g.rooms))
	for _, rm := range g.rooms {
		infos = append(infos, Info{
			ID:           rm.id,
			CreatedAt:    rm.createdAt,
			LastActivity: rm.lastActivity,
			HasJoiner:    rm.joiner != nil,
		})
	}
	return infos
}
