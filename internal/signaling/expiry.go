package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/192988431/screen-sharing/internal/metrics"
	"github.com/192988431/screen-sharing/internal/room"
)

// Scheduler reclaims abandoned rooms through two independent mechanisms:
//
//   - a one-shot timer armed per room at creation, which expires the room
//     ROOM_TIMEOUT after creation if it is still unpaired, regardless of
//     intervening keepalives;
//   - a periodic sweep that removes any room, paired or not, whose last
//     activity is older than ROOM_TIMEOUT.
//
// The two paths may race with each other and with message dispatch. Each
// re-validates room presence and pairing state through a registry operation
// immediately before acting, so a room already removed by the other path is a
// no-op.
type Scheduler struct {
	log      *slog.Logger
	reg      *room.Registry
	metrics  *metrics.Metrics
	timeout  time.Duration
	interval time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	closed  bool
	started bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewScheduler(log *slog.Logger, reg *room.Registry, m *metrics.Metrics, timeout, interval time.Duration) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Scheduler{
		log:      log,
		reg:      reg,
		metrics:  m,
		timeout:  timeout,
		interval: interval,
		timers:   make(map[string]*time.Timer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the idle-sweep loop. It must be called at most once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	go s.sweepLoop()
}

// Close stops the sweep loop and discards any pending unpaired-room timers.
// Rooms themselves are left to the registry owner.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	started := s.started
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })
	if started {
		<-s.done
	}
}

// ArmUnpairedTimer schedules the one-shot expiry for a freshly created room.
// The timer fires relative to creation time and is never reset by activity;
// pairing makes its action a no-op rather than cancelling it.
func (s *Scheduler) ArmUnpairedTimer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timers[id] = time.AfterFunc(s.timeout, func() { s.expireUnpaired(id) })
}

func (s *Scheduler) expireUnpaired(id string) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	creator, removed := s.reg.RemoveIfUnpaired(id)
	if !removed {
		return
	}

	s.metrics.Inc(metrics.RoomsExpiredUnpaired)
	s.log.Info("unpaired room expired", "room_id", id)

	sendMessage(s.log, creator, serverMessage{Type: messageTypeRoomExpired})
	_ = creator.Close(websocket.CloseNormalClosure, "room expired")
}

func (s *Scheduler) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Scheduler) sweepOnce() {
	for _, exp := range s.reg.SweepIdle(s.timeout) {
		s.metrics.Inc(metrics.RoomsExpiredIdle)
		s.log.Info("idle room expired", "room_id", exp.ID)

		for _, c := range exp.Conns {
			_ = c.Close(websocket.CloseNormalClosure, "room expired")
		}
	}
}
