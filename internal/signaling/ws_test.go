package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/192988431/screen-sharing/internal/metrics"
	"github.com/192988431/screen-sharing/internal/room"
)

func newTestWSServer(t *testing.T, cfg WSConfig) *httptest.Server {
	t.Helper()

	log := discardLogger()
	reg := room.NewRegistry(nil)
	m := metrics.New()
	sched := NewScheduler(log, reg, m, time.Hour, time.Hour)
	t.Cleanup(sched.Close)

	rt := NewRouter(log, reg, m, sched)
	h := NewWSHandler(log, rt, m, cfg)

	mux := http.NewServeMux()
	mux.Handle("GET /ws", h)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg serverMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketPairingFlow(t *testing.T) {
	srv := newTestWSServer(t, WSConfig{})

	creator := dialWS(t, srv)
	joiner := dialWS(t, srv)

	writeJSON(t, creator, `{"type":"create_room"}`)
	created := readServerMessage(t, creator)
	if created.Type != messageTypeRoomCreated || len(created.RoomID) != 6 {
		t.Fatalf("got %+v, want room_created with six digit id", created)
	}

	writeJSON(t, joiner, `{"type":"join_room","roomId":"`+created.RoomID+`"}`)
	if msg := readServerMessage(t, joiner); msg.Type != messageTypeJoinSuccess {
		t.Fatalf("joiner got %+v, want join_success", msg)
	}
	if msg := readServerMessage(t, creator); msg.Type != messageTypePeerJoined {
		t.Fatalf("creator got %+v, want peer_joined", msg)
	}

	writeJSON(t, creator, `{"type":"webrtc_offer","roomId":"`+created.RoomID+`","sdp":"v=0..."}`)
	offer := readServerMessage(t, joiner)
	if offer.Type != messageTypeWebRTCOffer || offer.SDP != "v=0..." {
		t.Fatalf("joiner got %+v, want forwarded offer", offer)
	}

	writeJSON(t, joiner, `{"type":"webrtc_answer","roomId":"`+created.RoomID+`","sdp":"v=0answer"}`)
	answer := readServerMessage(t, creator)
	if answer.Type != messageTypeWebRTCAnswer || answer.SDP != "v=0answer" {
		t.Fatalf("creator got %+v, want forwarded answer", answer)
	}

	writeJSON(t, joiner, `{"type":"ice_candidate","roomId":"`+created.RoomID+`","candidate":{"candidate":"candidate:1 1 UDP 2122 10.0.0.1 54321 typ host","sdpMid":"0"}}`)
	cand := readServerMessage(t, creator)
	if cand.Type != messageTypeICECandidate || len(cand.Candidate) == 0 {
		t.Fatalf("creator got %+v, want forwarded candidate", cand)
	}

	// Peer departure notifies the survivor.
	joiner.Close()
	if msg := readServerMessage(t, creator); msg.Type != messageTypePeerDisconnected {
		t.Fatalf("creator got %+v, want peer_disconnected", msg)
	}
}

func TestWebSocketErrorReplies(t *testing.T) {
	srv := newTestWSServer(t, WSConfig{})
	conn := dialWS(t, srv)

	writeJSON(t, conn, `{"type":"join_room","roomId":"000001"}`)
	if msg := readServerMessage(t, conn); msg.Error != errorRoomNotFound {
		t.Fatalf("got %+v, want error %q", msg, errorRoomNotFound)
	}

	writeJSON(t, conn, `not json at all`)
	if msg := readServerMessage(t, conn); msg.Error != errorInvalidFormat {
		t.Fatalf("got %+v, want error %q", msg, errorInvalidFormat)
	}

	writeJSON(t, conn, `{"type":"subscribe"}`)
	if msg := readServerMessage(t, conn); msg.Error != errorUnknownType {
		t.Fatalf("got %+v, want error %q", msg, errorUnknownType)
	}

	// The connection survived all three errors.
	writeJSON(t, conn, `{"type":"create_room"}`)
	if msg := readServerMessage(t, conn); msg.Type != messageTypeRoomCreated {
		t.Fatalf("got %+v, want room_created", msg)
	}
}

func TestWebSocketBinaryFrameRejected(t *testing.T) {
	srv := newTestWSServer(t, WSConfig{})
	conn := dialWS(t, srv)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readServerMessage(t, conn); msg.Error != errorInvalidFormat {
		t.Fatalf("got %+v, want error %q", msg, errorInvalidFormat)
	}

	writeJSON(t, conn, `{"type":"create_room"}`)
	if msg := readServerMessage(t, conn); msg.Type != messageTypeRoomCreated {
		t.Fatalf("got %+v, want room_created", msg)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	srv := newTestWSServer(t, WSConfig{MessagesPerSecond: 5})
	conn := dialWS(t, srv)

	for i := 0; i < 20; i++ {
		// Writes may start failing once the server closes the connection.
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"keepalive"}`)); err != nil {
			break
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected the server to close the connection")
	}
	// The close frame may be lost to a reset if the server already tore the
	// connection down; when it arrives it carries the policy violation code.
	if ce, ok := err.(*websocket.CloseError); ok && ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("close code = %d, want %d", ce.Code, websocket.ClosePolicyViolation)
	}
}

func TestWebSocketOriginDenied(t *testing.T) {
	srv := newTestWSServer(t, WSConfig{AllowedOrigins: []string{"https://app.example.com"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	hdr := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	if err == nil {
		t.Fatalf("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %+v, want 403", resp)
	}

	hdr = http.Header{"Origin": []string{"https://app.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}
