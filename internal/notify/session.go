package notify

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	maxMsgSize = 4096
)

// Close codes on the push channel.
const (
	closeIdleTimeout    = 1001
	closeAuthFailure    = 4001
	closeTenantMismatch = 4003
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser dashboards connect cross-origin; admission is enforced by
	// the bearer token, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Session is one authenticated push connection. All writes go through the
// Send channel and a single writePump goroutine; readPump owns all reads.
type Session struct {
	ID       string
	TenantID string

	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	idleTimeout time.Duration
	once        sync.Once
}

// HandleWebSocket serves /ws/notifications/{tenant_id}?token=<bearer>.
// The tenant path segment must match a tenant claim in the token.
func (h *Hub) HandleWebSocket(verifier *TokenVerifier, idleTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := mux.Vars(r)["tenant_id"]
		token := r.URL.Query().Get("token")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", "error", err)
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			closeWith(conn, closeAuthFailure, "authentication failed")
			return
		}
		if !claims.HasTenant(tenantID) {
			closeWith(conn, closeTenantMismatch, "tenant mismatch")
			return
		}

		s := &Session{
			ID:          uuid.NewString(),
			TenantID:    tenantID,
			hub:         h,
			conn:        conn,
			send:        make(chan []byte, sessionSendBuffer),
			done:        make(chan struct{}),
			idleTimeout: idleTimeout,
		}
		h.register(s)
		go s.writePump()
		go s.readPump()
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, msg)
	conn.Close()
}

// enqueue adds a message to the session queue, dropping the oldest message
// when full so slow consumers never block the hub.
func (s *Session) enqueue(payload []byte) {
	for {
		select {
		case s.send <- payload:
			return
		default:
			select {
			case <-s.send:
				s.hub.met.SessionOverflow.WithLabelValues(s.TenantID).Inc()
			default:
			}
		}
	}
}

// close shuts the session down exactly once. A non-zero code is sent to
// the client as the close frame.
func (s *Session) close(code int) {
	s.once.Do(func() {
		close(s.done)
		s.hub.unregister(s)
		if code != 0 {
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
		}
		s.conn.Close()
	})
}

type controlMessage struct {
	Type string `json:"type"`
}

var pingPayload, _ = json.Marshal(controlMessage{Type: "ping"})

// writePump owns all writes: queued alert messages and the 30s ping.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close(0)
	}()

	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, pingPayload); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// readPump consumes client messages (pongs); a session silent for the idle
// timeout is closed with 1001.
func (s *Session) readPump() {
	defer s.close(0)

	s.conn.SetReadLimit(maxMsgSize)
	s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if e, ok := err.(net.Error); ok && e.Timeout() {
				s.close(closeIdleTimeout)
			}
			return
		}
		var msg controlMessage
		if json.Unmarshal(payload, &msg) == nil && msg.Type == "pong" {
			s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
	}
}
