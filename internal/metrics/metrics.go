package metrics

import "sync"

// Counter names used across the signaling server.
const (
	RoomsCreated         = "rooms_created"
	RoomsJoined          = "rooms_joined"
	RoomsExpiredUnpaired = "rooms_expired_unpaired"
	RoomsExpiredIdle     = "rooms_expired_idle"
	MessagesForwarded    = "messages_forwarded"
	MessagesDropped      = "messages_dropped"
	ProtocolErrors       = "protocol_errors"
	RateLimited          = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It keeps the routing and expiry logic observable and testable without
// pulling a metrics client into the core; scraping goes through
// PrometheusHandler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
