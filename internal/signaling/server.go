package signaling

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pairloop/signaling-relay/internal/metrics"
	"github.com/pairloop/signaling-relay/internal/ratelimit"
	"github.com/pairloop/signaling-relay/internal/relay"
)

const wsWriteWait = 10 * time.Second

// sendQueueSize bounds outbound messages buffered per connection. A client
// that cannot drain its socket loses messages rather than blocking the core.
const sendQueueSize = 32

// Config wires together the runtime dependencies for the signaling surface.
type Config struct {
	Controller *relay.Controller

	Logger *slog.Logger

	// AllowedOrigins restricts WebSocket upgrades to these browser origins.
	// Empty means any origin.
	AllowedOrigins []string

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	IdleTimeout          time.Duration
	PingInterval         time.Duration
}

// Server upgrades GET /ws requests and pumps wire messages between each
// WebSocket and the relay Controller.
type Server struct {
	ctrl *relay.Controller
	log  *slog.Logger

	allowedOrigins []string

	maxMessageBytes      int64
	maxMessagesPerSecond int
	idleTimeout          time.Duration
	pingInterval         time.Duration

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ctrl:           cfg.Controller,
		log:            logger,
		allowedOrigins: cfg.AllowedOrigins,

		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		idleTimeout:          cfg.IdleTimeout,
		pingInterval:         cfg.PingInterval,

		conns: make(map[*wsConn]struct{}),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) metrics() *metrics.Metrics { return s.ctrl.Metrics() }

func (s *Server) messageBytesLimit() int64 {
	if s.maxMessageBytes <= 0 {
		return 64 * 1024
	}
	return s.maxMessageBytes
}

func (s *Server) messagesPerSecond() int {
	if s.maxMessagesPerSecond <= 0 {
		return 50
	}
	return s.maxMessagesPerSecond
}

func (s *Server) wsIdleTimeout() time.Duration {
	if s.idleTimeout <= 0 {
		return 60 * time.Second
	}
	return s.idleTimeout
}

func (s *Server) wsPingInterval() time.Duration {
	if s.pingInterval <= 0 {
		return 20 * time.Second
	}
	return s.pingInterval
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := strings.TrimSuffix(r.Header.Get("Origin"), "/")
	if origin == "" {
		// Non-browser clients send no Origin header; the origin check only
		// guards against cross-site browser connections.
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if strings.EqualFold(origin, strings.TrimSuffix(allowed, "/")) {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id := uuid.NewString()
	wsc := &wsConn{
		srv:  s,
		conn: conn,
		id:   id,
		send: make(chan serverMessage, sendQueueSize),
		done: make(chan struct{}),
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.messagesPerSecond()),
			int64(s.messagesPerSecond()),
		),
	}

	s.track(wsc)
	go wsc.writePump()

	if err := s.ctrl.Connect(id, wsc); err != nil {
		// Metrics for the rejection are counted by the Controller.
		wsc.closeWith(websocket.ClosePolicyViolation, "too many connections")
		wsc.teardown(false)
		return
	}

	wsc.readPump()
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	if s.conns != nil {
		s.conns[c] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, c)
	}
	s.mu.Unlock()
}

// Close tears down every live connection. Used on shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.teardown(true)
	}
}

// wsConn is one client connection. It implements relay.Sink; Deliver queues
// without blocking because the Controller calls it under its state mutex.
type wsConn struct {
	srv  *Server
	conn *websocket.Conn
	id   string

	send chan serverMessage
	done chan struct{}

	limiter *ratelimit.TokenBucket

	writeMu  sync.Mutex
	downOnce sync.Once
}

// Deliver implements relay.Sink. Messages beyond the queue bound are dropped;
// delivery is best-effort by contract.
func (c *wsConn) Deliver(out relay.Outbound) {
	msg := serverMessageFromOutbound(out)
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.srv.log.Warn("outbound queue full, dropping message", "id", c.id, "event", string(msg.Event))
	}
}

func (c *wsConn) readPump() {
	defer c.teardown(true)

	c.conn.SetReadLimit(c.srv.messageBytesLimit())
	_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.wsIdleTimeout()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.srv.wsIdleTimeout()))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.wsIdleTimeout()))

		// Rate-limit after reading so the bytes are consumed from the TCP
		// buffer; closing with unread data risks an abortive close that hides
		// the close frame from the client.
		if !c.limiter.Allow(1) {
			c.srv.metrics().Inc(metrics.DropReasonRateLimit)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.srv.metrics().Inc(metrics.DropReasonBadInput)
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			c.srv.metrics().Inc(metrics.DropReasonBadInput)
			c.srv.log.Debug("bad signaling message", "id", c.id, "err", err)
			c.closeWith(websocket.ClosePolicyViolation, "bad message")
			return
		}

		c.srv.ctrl.HandleEvent(c.id, msg.toEvent())
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.srv.wsPingInterval())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) write(msg serverMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// teardown unwinds the connection exactly once: relay cleanup, pump stop,
// socket close. disconnect=false skips relay cleanup for connections that
// were never registered.
func (c *wsConn) teardown(disconnect bool) {
	c.downOnce.Do(func() {
		if disconnect {
			c.srv.ctrl.Disconnect(c.id)
		}
		c.srv.untrack(c)
		close(c.done)
		_ = c.conn.Close()
	})
}
