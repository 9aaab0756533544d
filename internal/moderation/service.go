package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"modqueue/internal/ledger"
	"modqueue/internal/storage"
)

// allowedImageTypes is the intake content-type allowlist.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ServiceConfig holds HTTP-facing settings.
type ServiceConfig struct {
	AdminKey       string
	MaxUploadBytes int64
}

// DefaultServiceConfig returns default HTTP settings.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxUploadBytes: 10 << 20, // 10 MiB
	}
}

// Service exposes the two mutation entry points (intake and resolution) plus
// the delete-after-approval admin action over HTTP. It is thin orchestration:
// durable-store call, then the coordinator, in that order.
type Service struct {
	app    *App
	store  storage.ArtifactStore
	tokens ledger.TokenLedger
	config ServiceConfig
}

// NewService creates the HTTP service.
func NewService(app *App, store storage.ArtifactStore, tokens ledger.TokenLedger, config ServiceConfig) *Service {
	return &Service{
		app:    app,
		store:  store,
		tokens: tokens,
		config: config,
	}
}

// RegisterRoutes registers the mutation endpoints.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/submit", s.handleSubmit)
	mux.HandleFunc("/api/approve", s.requireAdmin(s.handleApprove))
	mux.HandleFunc("/api/deny", s.requireAdmin(s.handleDeny))
	mux.HandleFunc("/api/delete", s.requireAdmin(s.handleDelete))
	mux.HandleFunc("/api/gallery", s.handleGallery)
}

// handleSubmit accepts a multipart image+caption submission, redeems the
// submitter's token, stores the artifact, and feeds it into the pending pool.
func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !allowedImageTypes[contentType] {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported image type %q", contentType))
		return
	}

	token := r.FormValue("token")
	if err := s.tokens.Redeem(r.Context(), token); err != nil {
		switch {
		case errors.Is(err, ledger.ErrTokenUnknown):
			writeError(w, http.StatusForbidden, "unknown submission token")
		case errors.Is(err, ledger.ErrTokenUsed):
			writeError(w, http.StatusConflict, "submission token already used")
		default:
			log.Error().Err(err).Msg("token redemption failed")
			writeError(w, http.StatusInternalServerError, "token check failed")
		}
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	itemID, err := s.store.PutPending(r.Context(), data, contentType, r.FormValue("caption"))
	if err != nil {
		log.Error().Err(err).Msg("failed to store submission")
		writeError(w, http.StatusBadGateway, "storage unavailable, try again")
		return
	}

	if err := s.app.Intake(r.Context(), itemID); err != nil {
		log.Error().Err(err).Str("item_id", itemID).Msg("intake failed")
		writeError(w, http.StatusInternalServerError, "failed to queue submission")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": itemID})
}

type resolutionRequest struct {
	ID string `json:"id"`
}

// handleApprove promotes an item. A storage-side failure reports back as
// retryable without removing the item from the pending pool.
func (s *Service) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleResolution(w, r, s.app.Approve)
}

// handleDeny discards an item, same failure contract as approve.
func (s *Service) handleDeny(w http.ResponseWriter, r *http.Request) {
	s.handleResolution(w, r, s.app.Deny)
}

// handleDelete removes an already-approved item from the public collection.
func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.handleResolution(w, r, s.app.DeletePublic)
}

func (s *Service) handleResolution(w http.ResponseWriter, r *http.Request, resolve func(ctx context.Context, itemID string) error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req resolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "item id is required")
		return
	}

	if err := resolve(r.Context(), req.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		// The item stays in the pending pool with its owner, so the
		// moderator can simply retry.
		log.Error().Err(err).Str("item_id", req.ID).Msg("resolution failed")
		writeError(w, http.StatusBadGateway, "storage operation failed, retry")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGallery serves the current public collection. Viewers normally get
// it pushed over their socket; this is the polling fallback.
func (s *Service) handleGallery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	images, err := s.app.publicImages(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list public collection")
		writeError(w, http.StatusBadGateway, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"images": images})
}

// requireAdmin guards resolution endpoints with the shared moderator
// credential. An empty configured key disables the check.
func (s *Service) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminKey != "" && r.Header.Get("X-Admin-Key") != s.config.AdminKey {
			writeError(w, http.StatusUnauthorized, "invalid admin key")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
