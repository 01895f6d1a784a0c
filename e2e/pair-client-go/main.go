// Command pair-client-go exercises a running signaling server end to end: it
// connects two WebSocket clients, pairs them through a room code, negotiates a
// WebRTC data channel over the relayed offer/answer/candidate exchange, and
// verifies a round trip over the channel.
//
// It prints PAIRED <roomId> once both sides are in the room and DATA OK after
// the round trip, then exits 0. Any failure exits nonzero.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

type signalMessage struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// signalConn serializes writes to one signaling WebSocket.
type signalConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func dialSignaling(url string) (*signalConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &signalConn{conn: conn}, nil
}

func (s *signalConn) send(msg signalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *signalConn) recv(timeout time.Duration) (signalMessage, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	var msg signalMessage
	if err := s.conn.ReadJSON(&msg); err != nil {
		return signalMessage{}, err
	}
	if msg.Type == "error" {
		return signalMessage{}, fmt.Errorf("server error: %s", msg.Error)
	}
	return msg, nil
}

func (s *signalConn) close() {
	_ = s.conn.Close()
}

func main() {
	signalingURL := envOrDefault("SIGNALING_URL", "ws://127.0.0.1:8080/ws")
	timeout := time.Duration(envIntOrDefault("TIMEOUT_SECONDS", 30)) * time.Second

	if err := run(signalingURL, timeout); err != nil {
		fmt.Fprintf(os.Stderr, "pair-client: %v\n", err)
		os.Exit(1)
	}
}

func run(signalingURL string, timeout time.Duration) error {
	creator, err := dialSignaling(signalingURL)
	if err != nil {
		return err
	}
	defer creator.close()

	joiner, err := dialSignaling(signalingURL)
	if err != nil {
		return err
	}
	defer joiner.close()

	if err := creator.send(signalMessage{Type: "create_room"}); err != nil {
		return err
	}
	created, err := creator.recv(timeout)
	if err != nil {
		return err
	}
	if created.Type != "room_created" || created.RoomID == "" {
		return fmt.Errorf("expected room_created, got %s", created.Type)
	}
	roomID := created.RoomID

	if err := joiner.send(signalMessage{Type: "join_room", RoomID: roomID}); err != nil {
		return err
	}
	joined, err := joiner.recv(timeout)
	if err != nil {
		return err
	}
	if joined.Type != "join_success" {
		return fmt.Errorf("expected join_success, got %s", joined.Type)
	}
	peerJoined, err := creator.recv(timeout)
	if err != nil {
		return err
	}
	if peerJoined.Type != "peer_joined" {
		return fmt.Errorf("expected peer_joined, got %s", peerJoined.Type)
	}

	fmt.Printf("PAIRED %s\n", roomID)

	api := newWebRTCAPI()

	offerPC, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("offer peer: %w", err)
	}
	defer offerPC.Close()

	answerPC, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("answer peer: %w", err)
	}
	defer answerPC.Close()

	roundTrip := make(chan error, 1)

	dc, err := offerPC.CreateDataChannel("pair", nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		if err := dc.SendText("ping"); err != nil {
			roundTrip <- fmt.Errorf("send ping: %w", err)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if string(msg.Data) != "pong" {
			roundTrip <- fmt.Errorf("unexpected reply %q", msg.Data)
			return
		}
		roundTrip <- nil
	})

	answerPC.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if string(msg.Data) == "ping" {
				if err := dc.SendText("pong"); err != nil {
					roundTrip <- fmt.Errorf("send pong: %w", err)
				}
			}
		})
	})

	// Trickle local candidates out through the relay.
	offerPC.OnICECandidate(func(c *webrtc.ICECandidate) {
		sendCandidate(creator, roomID, c)
	})
	answerPC.OnICECandidate(func(c *webrtc.ICECandidate) {
		sendCandidate(joiner, roomID, c)
	})

	offer, err := offerPC.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := offerPC.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	if err := creator.send(signalMessage{Type: "webrtc_offer", RoomID: roomID, SDP: offer.SDP}); err != nil {
		return err
	}

	// Each side pumps forwarded messages into its peer connection.
	errCh := make(chan error, 2)
	go pumpSignaling(creator, offerPC, nil, timeout, errCh)
	go pumpSignaling(joiner, answerPC, func(sdp string) error {
		remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
		if err := answerPC.SetRemoteDescription(remote); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		answer, err := answerPC.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := answerPC.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		return joiner.send(signalMessage{Type: "webrtc_answer", RoomID: roomID, SDP: answer.SDP})
	}, timeout, errCh)

	select {
	case err := <-roundTrip:
		if err != nil {
			return err
		}
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for data channel round trip")
	}

	fmt.Println("DATA OK")
	return nil
}

// pumpSignaling applies forwarded answers and candidates to pc until the
// connection drops. onOffer, when set, handles a forwarded offer.
func pumpSignaling(sc *signalConn, pc *webrtc.PeerConnection, onOffer func(sdp string) error, timeout time.Duration, errCh chan<- error) {
	for {
		msg, err := sc.recv(timeout)
		if err != nil {
			return
		}
		switch msg.Type {
		case "webrtc_offer":
			if onOffer == nil {
				continue
			}
			if err := onOffer(msg.SDP); err != nil {
				errCh <- err
				return
			}
		case "webrtc_answer":
			remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}
			if err := pc.SetRemoteDescription(remote); err != nil {
				errCh <- fmt.Errorf("set remote answer: %w", err)
				return
			}
		case "ice_candidate":
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal(msg.Candidate, &init); err != nil {
				errCh <- fmt.Errorf("decode candidate: %w", err)
				return
			}
			if err := pc.AddICECandidate(init); err != nil {
				errCh <- fmt.Errorf("add candidate: %w", err)
				return
			}
		case "peer_disconnected", "room_expired":
			errCh <- fmt.Errorf("room ended early: %s", msg.Type)
			return
		}
	}
}

func sendCandidate(sc *signalConn, roomID string, c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	init := c.ToJSON()
	data, err := json.Marshal(init)
	if err != nil {
		return
	}
	_ = sc.send(signalMessage{Type: "ice_candidate", RoomID: roomID, Candidate: data})
}

func newWebRTCAPI() *webrtc.API {
	factory := logging.NewDefaultLoggerFactory()
	if os.Getenv("VERBOSE") != "" {
		factory.DefaultLogLevel = logging.LogLevelDebug
	}

	se := webrtc.SettingEngine{LoggerFactory: factory}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s=%q\n", key, v)
		os.Exit(2)
	}
	return n
}
