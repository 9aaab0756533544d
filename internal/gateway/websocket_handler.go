package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler exposes the session manager over HTTP.
type WebSocketHandler struct {
	manager *SessionManager
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(manager *SessionManager) *WebSocketHandler {
	return &WebSocketHandler{manager: manager}
}

// HandleConnection upgrades a client connection. Identification happens
// in-band via the first moderator/viewer message.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.manager.HandleWebSocket(w, r)
}

// HandleStats returns live connection counts.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	total, moderators, viewers := h.manager.Stats()

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]int{
		"total_sessions": total,
		"moderators":     moderators,
		"viewers":        viewers,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to write stats response")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}
