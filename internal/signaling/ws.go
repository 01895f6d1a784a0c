package signaling

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/192988431/screen-sharing/internal/metrics"
	"github.com/192988431/screen-sharing/internal/ratelimit"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// WSConfig carries the per-connection hardening knobs for the WebSocket
// signaling endpoint.
type WSConfig struct {
	// MaxMessageBytes bounds a single inbound frame. SDP payloads fit well
	// under 64 KiB.
	MaxMessageBytes int64

	// MessagesPerSecond bounds the inbound signaling rate per connection.
	// Zero or negative disables the limit.
	MessagesPerSecond int

	// AllowedOrigins restricts browser connections by Origin header. Empty
	// allows all origins; requests without an Origin header (CLI clients) are
	// always allowed.
	AllowedOrigins []string
}

// WSHandler upgrades HTTP requests to WebSocket connections and bridges
// their open/message/close events into the router.
type WSHandler struct {
	log      *slog.Logger
	router   *Router
	metrics  *metrics.Metrics
	cfg      WSConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(log *slog.Logger, router *Router, m *metrics.Metrics, cfg WSConfig) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}

	h := &WSHandler{
		log:     log,
		router:  router,
		metrics: m,
		cfg:     cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		return
	}

	c := &wsConn{
		id:   uuid.NewString(),
		log:  h.log,
		conn: conn,
		done: make(chan struct{}),
	}
	c.open.Store(true)

	h.log.Debug("websocket connected", "conn_id", c.id, "remote_addr", r.RemoteAddr)

	go c.pingLoop()
	h.router.HandleOpen(c)
	h.readLoop(c)
}

// readLoop is the sole reader of the connection. It exits on the first read
// error, which includes the peer closing, and always tears down the room
// association afterwards.
func (h *WSHandler) readLoop(c *wsConn) {
	defer func() {
		h.router.HandleClose(c)
		c.shutdown()
		h.log.Debug("websocket disconnected", "conn_id", c.id)
	}()

	var limiter *ratelimit.TokenBucket
	if h.cfg.MessagesPerSecond > 0 {
		perSec := int64(h.cfg.MessagesPerSecond)
		limiter = ratelimit.NewTokenBucket(ratelimit.RealClock{}, perSec, perSec)
	}

	c.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read failed", "conn_id", c.id, "err", err)
			}
			return
		}
		if limiter != nil && !limiter.Allow(1) {
			h.metrics.Inc(metrics.RateLimited)
			_ = c.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			// The protocol is one JSON object per text frame; anything else
			// gets an error reply but the connection stays open.
			h.metrics.Inc(metrics.ProtocolErrors)
			sendMessage(h.log, c, errorMessage(errorInvalidFormat))
			continue
		}

		h.router.HandleMessage(c, data)
	}
}

// wsConn wraps a gorilla connection behind the room.Conn contract. Writes
// are serialized by a mutex since sends originate from dispatch, expiry
// timers and the ping loop concurrently.
type wsConn struct {
	id   string
	log  *slog.Logger
	conn *websocket.Conn

	writeMu sync.Mutex
	open    atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsConn) Send(data []byte) error {
	if !c.open.Load() {
		return net.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close performs a best-effort close handshake and releases the connection.
// Safe to call from any goroutine and idempotent.
func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.writeMu.Unlock()

		_ = c.conn.Close()
	})
	return nil
}

func (c *wsConn) Open() bool { return c.open.Load() }

// shutdown releases the connection after the read loop exits without sending
// a close frame of our own (the peer is already gone in the common case).
func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
