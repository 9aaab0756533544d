package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Role is the identification state of a session. A session starts
// unidentified and moves exactly once to moderator or viewer.
type Role int

const (
	RoleUnidentified Role = iota
	RoleModerator
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleModerator:
		return "moderator"
	case RoleViewer:
		return "viewer"
	default:
		return "unidentified"
	}
}

// ConnectionConfig holds configuration for WebSocket sessions.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MissedPingLimit int
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration. Clients
// are expected to ping every PingInterval; a session silent for
// MissedPingLimit consecutive intervals is treated as dead and closed.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		PingInterval:    10 * time.Second,
		MissedPingLimit: 3,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// deadline is the longest a session may go without any inbound message.
func (c ConnectionConfig) deadline() time.Duration {
	return c.PingInterval*time.Duration(c.MissedPingLimit) + c.PingInterval/2
}

// Session is one live client connection. Outbound payloads go through a
// buffered send channel so broadcast loops never block on network I/O.
type Session struct {
	ID      string
	conn    *websocket.Conn
	send    chan []byte
	manager *SessionManager

	mu          sync.Mutex
	role        Role
	moderatorID string
	closed      bool

	connectedAt time.Time
	lastPing    time.Time
}

// Role returns the session's current identification state.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// ModeratorID returns the moderator identity, or "" for non-moderators.
func (s *Session) ModeratorID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moderatorID
}

// enqueue hands a payload to the write pump. A closed session drops the
// payload; a full buffer reports false so the caller can close the laggard.
// Either way the caller's broadcast loop keeps going.
func (s *Session) enqueue(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// markClosed flags the session so no further payloads reach the send
// channel, then closes it. Safe to call once only; the manager guards that.
func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.send)
}

// writePump drains the send channel onto the wire and enforces the
// keepalive budget. Runs as a goroutine per session.
func (s *Session) writePump() {
	ticker := s.manager.clock.NewTicker(s.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.manager.unregister(s)
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.manager.config.WriteTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Error().Err(err).Str("session_id", s.ID).Msg("failed to write message")
				return
			}

		case <-ticker.Chan():
			s.mu.Lock()
			last := s.lastPing
			s.mu.Unlock()
			silence := s.manager.clock.Now().Sub(last)
			if silence > s.manager.config.deadline() {
				log.Warn().
					Str("session_id", s.ID).
					Dur("silence", silence).
					Msg("session missed keepalive budget, closing")
				return
			}
		}
	}
}

// readPump consumes inbound messages until the connection dies, then
// triggers the disconnect path.
func (s *Session) readPump() {
	defer func() {
		s.manager.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(s.manager.config.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.manager.config.deadline()))

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("session_id", s.ID).Msg("unexpected close error")
			}
			return
		}
		s.manager.handleInbound(s, payload)
		s.conn.SetReadDeadline(time.Now().Add(s.manager.config.deadline()))
	}
}
