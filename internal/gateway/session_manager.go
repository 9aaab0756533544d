package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"modqueue/internal/metrics"
)

// Hooks receives session lifecycle notifications. The moderation coordinator
// implements them: join triggers a rebalance and a view push, leave releases
// the departed moderator's items before the next balancing pass.
type Hooks interface {
	ModeratorJoined(moderatorID string)
	ModeratorLeft(moderatorID string)
	ViewerJoined(sessionID string)
}

// SessionManager owns the set of live sessions and runs the per-connection
// identification state machine (Unidentified -> Moderator|Viewer -> Closed).
type SessionManager struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	moderators []*Session // registration order, drives balancing tie-breaks

	upgrader     websocket.Upgrader
	config       ConnectionConfig
	clock        clockwork.Clock
	hooks        Hooks
	metrics      metrics.Collector
	moderatorKey string
}

// NewSessionManager creates a session manager. moderatorKey is the shared
// moderator credential; empty disables the check.
func NewSessionManager(config ConnectionConfig, clock clockwork.Clock, collector metrics.Collector, moderatorKey string) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:       config,
		clock:        clock,
		metrics:      collector,
		moderatorKey: moderatorKey,
	}
}

// SetHooks wires the lifecycle callbacks. Must be called before serving.
func (m *SessionManager) SetHooks(hooks Hooks) {
	m.hooks = hooks
}

// HandleWebSocket upgrades an HTTP request and starts the session pumps.
func (m *SessionManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	now := m.clock.Now()
	session := &Session{
		ID:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, m.config.SendBufferSize),
		manager:     m,
		connectedAt: now,
		lastPing:    now,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	go session.writePump()
	go session.readPump()

	log.Info().Str("session_id", session.ID).Msg("WebSocket session established")
}

// handleInbound routes one client message. Unknown or malformed messages are
// logged and ignored; the connection stays open.
func (m *SessionManager) handleInbound(s *Session, payload []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("malformed inbound message, ignoring")
		return
	}

	switch msg.Type {
	case MessageTypeModerator:
		m.identifyModerator(s, msg.Key)
	case MessageTypeViewer:
		m.identifyViewer(s)
	case MessageTypePing:
		m.handlePing(s)
	default:
		log.Warn().Str("session_id", s.ID).Str("type", msg.Type).Msg("unknown inbound message type, ignoring")
	}
}

// identifyModerator moves an unidentified session into the moderator pool.
// The fresh moderator ID is queued back to the client before the session
// joins the balancing pool, so the assignedId message always precedes the
// first item push.
func (m *SessionManager) identifyModerator(s *Session, key string) {
	if m.moderatorKey != "" && key != m.moderatorKey {
		log.Warn().Str("session_id", s.ID).Msg("moderator identification with bad credential, ignoring")
		return
	}

	s.mu.Lock()
	if s.role != RoleUnidentified {
		role := s.role
		s.mu.Unlock()
		log.Warn().Str("session_id", s.ID).Stringer("role", role).Msg("session already identified, ignoring")
		return
	}
	s.role = RoleModerator
	s.moderatorID = m.newModeratorID()
	moderatorID := s.moderatorID
	s.mu.Unlock()

	m.sendJSON(s, AssignedIDMessage{Type: "assignedId", ID: moderatorID})

	m.mu.Lock()
	m.moderators = append(m.moderators, s)
	count := len(m.moderators)
	m.mu.Unlock()
	m.metrics.SetConnectedModerators(count)

	log.Info().
		Str("session_id", s.ID).
		Str("moderator_id", moderatorID).
		Int("moderators", count).
		Msg("moderator joined")

	if m.hooks != nil {
		m.hooks.ModeratorJoined(moderatorID)
	}
}

// identifyViewer moves an unidentified session into the viewer set. Viewers
// never touch the pending registry.
func (m *SessionManager) identifyViewer(s *Session) {
	s.mu.Lock()
	if s.role != RoleUnidentified {
		s.mu.Unlock()
		log.Warn().Str("session_id", s.ID).Msg("session already identified, ignoring")
		return
	}
	s.role = RoleViewer
	s.mu.Unlock()

	m.metrics.SetConnectedViewers(m.viewerCount())
	log.Info().Str("session_id", s.ID).Msg("viewer joined")

	if m.hooks != nil {
		m.hooks.ViewerJoined(s.ID)
	}
}

func (m *SessionManager) handlePing(s *Session) {
	s.mu.Lock()
	s.lastPing = m.clock.Now()
	s.mu.Unlock()
	m.sendJSON(s, PongMessage{Type: "pong"})
}

// newModeratorID generates a moderator identity unique among live sessions.
// UUID collisions are negligible, but a collision is re-rolled rather than
// silently merging two sessions.
func (m *SessionManager) newModeratorID() string {
	for {
		id := fmt.Sprintf("mod_%s", uuid.New().String())
		if !m.moderatorIDLive(id) {
			return id
		}
		log.Warn().Str("moderator_id", id).Msg("moderator id collision, regenerating")
	}
}

func (m *SessionManager) moderatorIDLive(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.moderators {
		if s.ModeratorID() == id {
			return true
		}
	}
	return false
}

// unregister removes a session and fires the disconnect hook. Both pumps
// call it on exit; only the first call does anything.
func (m *SessionManager) unregister(s *Session) {
	m.mu.Lock()
	if _, ok := m.sessions[s.ID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.ID)
	for i, mod := range m.moderators {
		if mod == s {
			m.moderators = append(m.moderators[:i], m.moderators[i+1:]...)
			break
		}
	}
	moderatorCount := len(m.moderators)
	m.mu.Unlock()

	s.markClosed()

	role := s.Role()
	m.metrics.SetConnectedModerators(moderatorCount)
	m.metrics.SetConnectedViewers(m.viewerCount())

	log.Info().
		Str("session_id", s.ID).
		Stringer("role", role).
		Msg("session closed")

	if role == RoleModerator && m.hooks != nil {
		m.hooks.ModeratorLeft(s.ModeratorID())
	}
}

// ModeratorIDs returns connected moderator identities in registration order.
// The stable order makes balancing tie-breaks deterministic.
func (m *SessionManager) ModeratorIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.moderators))
	for _, s := range m.moderators {
		ids = append(ids, s.ModeratorID())
	}
	return ids
}

// moderatorSessions returns a snapshot of moderator sessions.
func (m *SessionManager) moderatorSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, len(m.moderators))
	copy(out, m.moderators)
	return out
}

// viewerSessions returns a snapshot of identified viewer sessions.
func (m *SessionManager) viewerSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.Role() == RoleViewer {
			out = append(out, s)
		}
	}
	return out
}

// sessionByID looks up a live session.
func (m *SessionManager) sessionByID(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *SessionManager) viewerCount() int {
	return len(m.viewerSessions())
}

// Stats returns connection counts for the stats endpoint.
func (m *SessionManager) Stats() (total, moderators, viewers int) {
	m.mu.RLock()
	total = len(m.sessions)
	moderators = len(m.moderators)
	m.mu.RUnlock()
	viewers = m.viewerCount()
	return total, moderators, viewers
}

// sendJSON marshals and enqueues a payload for one session. A session whose
// channel is gone or full is dropped without disturbing anyone else.
func (m *SessionManager) sendJSON(s *Session, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Msg("failed to marshal payload")
		return
	}
	if !s.enqueue(payload) {
		m.metrics.RecordDroppedSend()
		log.Warn().Str("session_id", s.ID).Msg("send buffer full, closing session")
		s.conn.Close()
	}
}
