package signaling

import (
	"testing"
	"time"

	"github.com/192988431/screen-sharing/internal/metrics"
	"github.com/192988431/screen-sharing/internal/room"
)

func newTestScheduler(t *testing.T, clk room.Clock, timeout time.Duration) (*Scheduler, *room.Registry, *metrics.Metrics) {
	t.Helper()
	reg := room.NewRegistry(clk)
	m := metrics.New()
	sched := NewScheduler(discardLogger(), reg, m, timeout, time.Hour)
	t.Cleanup(sched.Close)
	return sched, reg, m
}

func TestSchedulerExpiresUnpairedRoom(t *testing.T) {
	sched, reg, m := newTestScheduler(t, nil, time.Hour)
	creator := newTestConn("creator")

	rm, err := reg.Create(creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sched.expireUnpaired(rm.ID())

	if _, ok := reg.Get(rm.ID()); ok {
		t.Fatalf("room %s still present after expiry", rm.ID())
	}
	if msg := creator.lastMessage(t); msg.Type != messageTypeRoomExpired {
		t.Fatalf("creator received %+v, want room_expired", msg)
	}
	if creator.Open() {
		t.Fatalf("creator connection left open after expiry")
	}
	if got := m.Get(metrics.RoomsExpiredUnpaired); got != 1 {
		t.Fatalf("unpaired expiries = %d, want 1", got)
	}

	// Firing again for a room that is already gone is a no-op.
	sched.expireUnpaired(rm.ID())
	if got := m.Get(metrics.RoomsExpiredUnpaired); got != 1 {
		t.Fatalf("unpaired expiries after repeat = %d, want 1", got)
	}
}

func TestSchedulerUnpairedExpiryIgnoresKeepalives(t *testing.T) {
	sched, reg, _ := newTestScheduler(t, nil, time.Hour)
	creator := newTestConn("creator")

	rm, err := reg.Create(creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Activity refreshes the idle clock but does not save an unpaired room.
	reg.Touch(rm.ID())
	sched.expireUnpaired(rm.ID())

	if _, ok := reg.Get(rm.ID()); ok {
		t.Fatalf("keepalive must not rescue an unpaired room")
	}
}

func TestSchedulerUnpairedExpirySparesPairedRoom(t *testing.T) {
	sched, reg, m := newTestScheduler(t, nil, time.Hour)
	creator := newTestConn("creator")
	joiner := newTestConn("joiner")

	rm, err := reg.Create(creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.Join(rm.ID(), joiner); err != nil {
		t.Fatalf("join: %v", err)
	}

	sched.expireUnpaired(rm.ID())

	if _, ok := reg.Get(rm.ID()); !ok {
		t.Fatalf("paired room %s removed by unpaired timer", rm.ID())
	}
	if !creator.Open() || !joiner.Open() {
		t.Fatalf("paired connections closed by unpaired timer")
	}
	if got := m.Get(metrics.RoomsExpiredUnpaired); got != 0 {
		t.Fatalf("unpaired expiries = %d, want 0", got)
	}
}

func TestSchedulerSweepRemovesIdleRooms(t *testing.T) {
	clk := newFakeClock()
	sched, reg, m := newTestScheduler(t, clk, 30*time.Second)
	creator := newTestConn("creator")
	joiner := newTestConn("joiner")
	fresh := newTestConn("fresh")

	rm, err := reg.Create(creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.Join(rm.ID(), joiner); err != nil {
		t.Fatalf("join: %v", err)
	}

	clk.Advance(31 * time.Second)
	if _, err := reg.Create(fresh); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	sched.sweepOnce()

	if _, ok := reg.Get(rm.ID()); ok {
		t.Fatalf("idle room %s survived the sweep", rm.ID())
	}
	if creator.Open() || joiner.Open() {
		t.Fatalf("idle room connections left open after sweep")
	}
	if reg.Count() != 1 {
		t.Fatalf("room count = %d, want the fresh room to survive", reg.Count())
	}
	if !fresh.Open() {
		t.Fatalf("fresh connection closed by sweep")
	}
	if got := m.Get(metrics.RoomsExpiredIdle); got != 1 {
		t.Fatalf("idle expiries = %d, want 1", got)
	}

	// The sweep closes quietly; only the unpaired timer announces expiry.
	for _, c := range []*testConn{creator, joiner} {
		for _, msg := range c.messages() {
			if msg.Type == messageTypeRoomExpired {
				t.Fatalf("%s received room_expired from idle sweep", c.name)
			}
		}
	}
}

func TestSchedulerKeepaliveDefersSweep(t *testing.T) {
	clk := newFakeClock()
	sched, reg, _ := newTestScheduler(t, clk, 30*time.Second)
	creator := newTestConn("creator")
	joiner := newTestConn("joiner")

	rm, err := reg.Create(creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.Join(rm.ID(), joiner); err != nil {
		t.Fatalf("join: %v", err)
	}

	clk.Advance(25 * time.Second)
	reg.Touch(rm.ID())
	clk.Advance(25 * time.Second)

	sched.sweepOnce()

	if _, ok := reg.Get(rm.ID()); !ok {
		t.Fatalf("recently active room %s swept", rm.ID())
	}
}

func TestSchedulerTimerFires(t *testing.T) {
	reg := room.NewRegistry(nil)
	sched := NewScheduler(discardLogger(), reg, metrics.New(), 20*time.Millisecond, time.Hour)
	defer sched.Close()
	creator := newTestConn("creator")

	rm, err := reg.Create(creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sched.ArmUnpairedTimer(rm.ID())

	deadline := time.After(2 * time.Second)
	for creator.Open() {
		select {
		case <-deadline:
			t.Fatalf("unpaired timer never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if _, ok := reg.Get(rm.ID()); ok {
		t.Fatalf("room %s still present after timer fired", rm.ID())
	}
}

func TestSchedulerCloseDiscardsTimers(t *testing.T) {
	reg := room.NewRegistry(nil)
	sched := NewScheduler(discardLogger(), reg, metrics.New(), time.Hour, time.Hour)

	creator := newTestConn("creator")
	rm, err := reg.Create(creator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sched.ArmUnpairedTimer(rm.ID())

	sched.Close()

	sched.mu.Lock()
	pending := len(sched.timers)
	sched.mu.Unlock()
	if pending != 0 {
		t.Fatalf("%d timers still armed after close", pending)
	}

	// Arming after close is ignored.
	sched.ArmUnpairedTimer(rm.ID())
	sched.mu.Lock()
	pending = len(sched.timers)
	sched.mu.Unlock()
	if pending != 0 {
		t.Fatalf("timer armed on closed scheduler")
	}
}

func TestSchedulerStartAndClose(t *testing.T) {
	reg := room.NewRegistry(nil)
	sched := NewScheduler(discardLogger(), reg, metrics.New(), time.Hour, time.Millisecond)
	sched.Start()

	done := make(chan struct{})
	go func() {
		sched.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not stop the sweep loop")
	}
}
