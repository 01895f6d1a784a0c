package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type messageType string

// Client -> server message kinds. Offers, answers and candidates are also
// forwarded server -> client unchanged.
const (
	messageTypeCreateRoom   messageType = "create_room"
	messageTypeJoinRoom     messageType = "join_room"
	messageTypeWebRTCOffer  messageType = "webrtc_offer"
	messageTypeWebRTCAnswer messageType = "webrtc_answer"
	messageTypeICECandidate messageType = "ice_candidate"
	messageTypeKeepalive    messageType = "keepalive"
)

// Server -> client message kinds.
const (
	messageTypeRoomCreated      messageType = "room_created"
	messageTypeJoinSuccess      messageType = "join_success"
	messageTypePeerJoined       messageType = "peer_joined"
	messageTypePeerDisconnected messageType = "peer_disconnected"
	messageTypeRoomExpired      messageType = "room_expired"
	messageTypeError            messageType = "error"
)

// Error strings reported to clients. These are part of the wire protocol.
const (
	errorRoomNotFound  = "room not found"
	errorRoomFull      = "room full"
	errorUnknownType   = "unknown message type"
	errorInvalidFormat = "invalid message format"
)

// errUnknownType marks a structurally valid message whose type the router
// does not recognize. It gets a dedicated error reply, distinct from
// malformed input.
var errUnknownType = errors.New("unknown message type")

// clientMessage is the tagged inbound variant. Which fields are required
// depends on Type; validate enforces the per-kind shape.
//
// SDP bodies and ICE candidates are opaque to the relay: they are carried
// through verbatim and never parsed.
type clientMessage struct {
	Type      messageType     `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	return msg, nil
}

func (m clientMessage) validate() error {
	if m.Type == "" {
		return fmt.Errorf("message missing type")
	}
	switch m.Type {
	case messageTypeCreateRoom:
		if m.RoomID != "" || m.SDP != "" || m.Candidate != nil {
			return fmt.Errorf("create_room message has unexpected fields")
		}
	case messageTypeJoinRoom:
		if m.RoomID == "" {
			return fmt.Errorf("join_room message missing roomId")
		}
		if m.SDP != "" || m.Candidate != nil {
			return fmt.Errorf("join_room message has unexpected fields")
		}
	case messageTypeWebRTCOffer, messageTypeWebRTCAnswer:
		if m.RoomID == "" {
			return fmt.Errorf("%s message missing roomId", m.Type)
		}
		if m.SDP == "" {
			return fmt.Errorf("%s message missing sdp", m.Type)
		}
		if m.Candidate != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case messageTypeICECandidate:
		if m.RoomID == "" {
			return fmt.Errorf("ice_candidate message missing roomId")
		}
		if len(m.Candidate) == 0 {
			return fmt.Errorf("ice_candidate message missing candidate")
		}
		if m.SDP != "" {
			return fmt.Errorf("ice_candidate message has unexpected fields")
		}
	case messageTypeKeepalive:
		// Clients may echo the room id on keepalives; it is ignored since the
		// room is located by connection handle.
		if m.SDP != "" || m.Candidate != nil {
			return fmt.Errorf("keepalive message has unexpected fields")
		}
	default:
		return errUnknownType
	}
	return nil
}

// serverMessage is the tagged outbound variant.
type serverMessage struct {
	Type      messageType     `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func errorMessage(text string) serverMessage {
	return serverMessage{Type: messageTypeError, Error: text}
}
