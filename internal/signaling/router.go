package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/192988431/screen-sharing/internal/metrics"
	"github.com/192988431/screen-sharing/internal/room"
)

// Router drives the two-party pairing state machine and relays negotiation
// messages between the participants of a room.
//
// All room state lives in the registry; the router itself is stateless and
// safe for concurrent use. Replies and forwards are fire-and-forget: a failed
// send never fails the handler.
type Router struct {
	log     *slog.Logger
	reg     *room.Registry
	metrics *metrics.Metrics
	sched   *Scheduler
}

func NewRouter(log *slog.Logger, reg *room.Registry, m *metrics.Metrics, sched *Scheduler) *Router {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Router{
		log:     log,
		reg:     reg,
		metrics: m,
		sched:   sched,
	}
}

// HandleOpen is invoked when a connection is established. The connection is
// not associated with any room until it sends create_room or join_room.
func (rt *Router) HandleOpen(sender room.Conn) {
	rt.log.Debug("connection opened")
}

// HandleMessage decodes one inbound text frame and dispatches it.
func (rt *Router) HandleMessage(sender room.Conn, data []byte) {
	msg, err := parseClientMessage(data)
	if err != nil {
		rt.metrics.Inc(metrics.ProtocolErrors)
		if errors.Is(err, errUnknownType) {
			rt.send(sender, errorMessage(errorUnknownType))
			return
		}
		rt.log.Debug("malformed signaling message", "err", err)
		rt.send(sender, errorMessage(errorInvalidFormat))
		return
	}

	switch msg.Type {
	case messageTypeCreateRoom:
		rt.handleCreateRoom(sender)
	case messageTypeJoinRoom:
		rt.handleJoinRoom(sender, msg.RoomID)
	case messageTypeWebRTCOffer, messageTypeWebRTCAnswer, messageTypeICECandidate:
		rt.handleForward(sender, msg)
	case messageTypeKeepalive:
		rt.reg.TouchByConn(sender)
	}
}

// HandleClose tears down the room, if any, referencing the departed
// connection and notifies the survivor exactly once.
func (rt *Router) HandleClose(sender room.Conn) {
	rt.teardownRoomOf(sender, "disconnect")
}

// teardownRoomOf removes the room referencing sender, if one exists, and
// notifies the surviving participant. At most one room may reference a given
// connection; create and join run this first so a connection starting over
// never ends up in two rooms.
func (rt *Router) teardownRoomOf(sender room.Conn, reason string) {
	id, other, removed := rt.reg.RemoveByConn(sender)
	if !removed {
		return
	}

	rt.log.Info("room closed", "room_id", id, "reason", reason)
	if other != nil && other.Open() {
		rt.send(other, serverMessage{Type: messageTypePeerDisconnected})
	}
}

func (rt *Router) handleCreateRoom(sender room.Conn) {
	rt.teardownRoomOf(sender, "superseded by create")

	rm, err := rt.reg.Create(sender)
	if err != nil {
		// Only possible when the id namespace is exhausted or the system
		// entropy source fails. Not a client-protocol error, so no reply.
		rt.log.Error("failed to create room", "err", err)
		return
	}

	rt.metrics.Inc(metrics.RoomsCreated)
	rt.log.Info("room created", "room_id", rm.ID())

	rt.send(sender, serverMessage{Type: messageTypeRoomCreated, RoomID: rm.ID()})
	if rt.sched != nil {
		rt.sched.ArmUnpairedTimer(rm.ID())
	}
}

func (rt *Router) handleJoinRoom(sender room.Conn, id string) {
	// Joining your own room tears it down here and then fails the lookup
	// below with "room not found", which is the deterministic outcome.
	rt.teardownRoomOf(sender, "superseded by join")

	creator, err := rt.reg.Join(id, sender)
	switch {
	case errors.Is(err, room.ErrNotFound):
		rt.metrics.Inc(metrics.ProtocolErrors)
		rt.send(sender, errorMessage(errorRoomNotFound))
		return
	case errors.Is(err, room.ErrFull):
		rt.metrics.Inc(metrics.ProtocolErrors)
		rt.send(sender, errorMessage(errorRoomFull))
		return
	case err != nil:
		rt.log.Error("failed to join room", "room_id", id, "err", err)
		return
	}

	rt.metrics.Inc(metrics.RoomsJoined)
	rt.log.Info("room paired", "room_id", id)

	rt.send(sender, serverMessage{Type: messageTypeJoinSuccess})
	rt.send(creator, serverMessage{Type: messageTypePeerJoined})
}

// handleForward relays an offer, answer or candidate to the other participant
// of the room. Forwarding is best-effort: when the room is gone, the sender
// is not a participant, or the target is absent or closed, the message is
// dropped without a reply. Those are expected races, not errors.
func (rt *Router) handleForward(sender room.Conn, msg clientMessage) {
	target, ok := rt.reg.ForwardTarget(msg.RoomID, sender)
	if !ok || target == nil || !target.Open() {
		rt.metrics.Inc(metrics.MessagesDropped)
		return
	}

	rt.metrics.Inc(metrics.MessagesForwarded)
	rt.send(target, serverMessage{
		Type:      msg.Type,
		SDP:       msg.SDP,
		Candidate: msg.Candidate,
	})
}

func (rt *Router) send(c room.Conn, msg serverMessage) {
	sendMessage(rt.log, c, msg)
}

// sendMessage marshals and writes one server message, fire-and-forget.
func sendMessage(log *slog.Logger, c room.Conn, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("failed to encode server message", "type", msg.Type, "err", err)
		return
	}
	if err := c.Send(data); err != nil {
		log.Debug("dropped server message", "type", msg.Type, "err", err)
	}
}
