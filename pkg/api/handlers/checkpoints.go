package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/audiovault/audiovault/pkg/api/middleware"
	"github.com/audiovault/audiovault/pkg/models"
	"github.com/audiovault/audiovault/pkg/store"
)

// CheckpointHandler handles per-user playback bookmarks.
type CheckpointHandler struct {
	store *store.GORMStore
}

// NewCheckpointHandler creates a new CheckpointHandler.
func NewCheckpointHandler(s *store.GORMStore) *CheckpointHandler {
	return &CheckpointHandler{store: s}
}

// CheckpointRequest is the request body for creating or updating a
// checkpoint.
type CheckpointRequest struct {
	Timestamp   float64 `json:"timestamp"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
}

// List handles GET /files/{id}/checkpoints.
func (h *CheckpointHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	checkpoints, err := h.store.ListCheckpoints(r.Context(), claims.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "checkpoints": checkpoints})
}

// Create handles POST /files/{id}/checkpoints.
func (h *CheckpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}
	fileID := chi.URLParam(r, "id")

	user, err := h.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	file, err := h.store.GetFile(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	allowed, err := h.store.CanAccessFile(r.Context(), user, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !allowed {
		notFound(w, "file not found")
		return
	}

	var req CheckpointRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Timestamp < 0 {
		badRequest(w, "timestamp must not be negative")
		return
	}

	cp := &models.Checkpoint{
		UserID:      claims.UserID,
		FileID:      fileID,
		Timestamp:   req.Timestamp,
		Label:       req.Label,
		Description: req.Description,
	}
	if _, err := h.store.CreateCheckpoint(r.Context(), cp); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "checkpoint": cp})
}

// Update handles PUT /checkpoints/{id}. The update is scoped to the
// caller's own checkpoints.
func (h *CheckpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	var req CheckpointRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Timestamp < 0 {
		badRequest(w, "timestamp must not be negative")
		return
	}

	cp := &models.Checkpoint{
		ID:          chi.URLParam(r, "id"),
		UserID:      claims.UserID,
		Timestamp:   req.Timestamp,
		Label:       req.Label,
		Description: req.Description,
	}
	if err := h.store.UpdateCheckpoint(r.Context(), cp); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "checkpoint": cp})
}

// Delete handles DELETE /checkpoints/{id}.
func (h *CheckpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	if err := h.store.DeleteCheckpoint(r.Context(), chi.URLParam(r, "id"), claims.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
