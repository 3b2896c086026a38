package handlers

import (
	"crypto/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/audiovault/audiovault/internal/logger"
	"github.com/audiovault/audiovault/pkg/drm"
	"github.com/audiovault/audiovault/pkg/models"
	"github.com/audiovault/audiovault/pkg/store"
)

// AdminHandler covers user management, session administration, account
// unlock, file access grants and signing-key rotation. All routes are
// mounted behind RequireAdmin.
type AdminHandler struct {
	store  *store.GORMStore
	signer *drm.Signer
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(s *store.GORMStore, signer *drm.Signer) *AdminHandler {
	return &AdminHandler{store: s, signer: signer}
}

// CreateUserRequest is the request body for POST /admin/users.
type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// CreateUser handles POST /admin/users.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeProblem(w, http.StatusBadRequest, models.CodeMissingCredential, "email and password are required")
		return
	}
	if len(req.Password) < 8 {
		badRequest(w, "password must be at least 8 characters")
		return
	}
	role := req.Role
	if role == "" {
		role = string(models.RoleUser)
	}
	if !models.UserRole(role).IsValid() {
		badRequest(w, "role must be user or admin")
		return
	}

	hash, err := store.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := &models.User{
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		Role:         role,
	}
	if _, err := h.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}
	logger.InfoCtx(r.Context(), "user created by admin",
		logger.KeyUserID, user.ID, "role", role)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": user})
}

// ListUsers handles GET /admin/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": users})
}

// GetUser handles GET /admin/users/{id}.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

// DeleteUser handles DELETE /admin/users/{id}. Deletion is refused while
// the user still has live sessions; revoke them first.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if err := h.store.DeleteUser(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	logger.InfoCtx(r.Context(), "user deleted by admin", logger.KeyUserID, userID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RotateSigningKey handles POST /admin/drm/rotate-key. A fresh random key
// replaces the current one; every outstanding token is invalidated and
// clients must mint new ones.
func (h *AdminHandler) RotateSigningKey(w http.ResponseWriter, r *http.Request) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.signer.Rotate(key); err != nil {
		writeError(w, r, err)
		return
	}
	logger.InfoCtx(r.Context(), "DRM signing key rotated")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ListUserSessions handles GET /admin/users/{id}/sessions.
func (h *AdminHandler) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if _, err := h.store.GetUser(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	sessions, err := h.store.ListUserSessions(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessions": sessions})
}

// RevokeUserSession handles DELETE /admin/users/{id}/sessions/{sid}.
func (h *AdminHandler) RevokeUserSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	sessionID := chi.URLParam(r, "sid")

	session, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if session.UserID != userID {
		notFound(w, "session not found")
		return
	}

	if err := h.store.RevokeSession(r.Context(), sessionID, "revoked by administrator"); err != nil {
		writeError(w, r, err)
		return
	}
	logger.InfoCtx(r.Context(), "session revoked by admin",
		logger.KeyUserID, userID, logger.KeySessionID, sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// UnlockUser handles PATCH /admin/users/{id}/unlock. Clears the lock and
// the failed-login counter.
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if _, err := h.store.GetUser(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.UnlockUser(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	logger.InfoCtx(r.Context(), "user unlocked", logger.KeyUserID, userID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GrantRequest is the request body for creating or updating a file access
// grant.
type GrantRequest struct {
	UserID    string     `json:"userId"`
	FileID    string     `json:"fileId"`
	CanView   *bool      `json:"canView"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// CreateGrant handles POST /admin/file-access. Granting twice for the same
// (user, file) pair updates the existing grant.
func (h *AdminHandler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.UserID == "" || req.FileID == "" {
		badRequest(w, "userId and fileId are required")
		return
	}
	if _, err := h.store.GetUser(r.Context(), req.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.store.GetFile(r.Context(), req.FileID); err != nil {
		writeError(w, r, err)
		return
	}

	grant := &models.FileAccess{
		UserID:    req.UserID,
		FileID:    req.FileID,
		CanView:   true,
		ExpiresAt: req.ExpiresAt,
	}
	if req.CanView != nil {
		grant.CanView = *req.CanView
	}
	if _, err := h.store.UpsertGrant(r.Context(), grant); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "grant": grant})
}

// ListFileGrants handles GET /admin/file-access/file/{id}.
func (h *AdminHandler) ListFileGrants(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	if _, err := h.store.GetFile(r.Context(), fileID); err != nil {
		writeError(w, r, err)
		return
	}
	grants, err := h.store.ListGrantsForFile(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "grants": grants})
}

// UpdateGrant handles PUT /admin/file-access/{id}.
func (h *AdminHandler) UpdateGrant(w http.ResponseWriter, r *http.Request) {
	grant, err := h.store.GetGrant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req GrantRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.CanView != nil {
		grant.CanView = *req.CanView
	}
	grant.ExpiresAt = req.ExpiresAt

	if err := h.store.UpdateGrant(r.Context(), grant); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "grant": grant})
}

// DeleteGrant handles DELETE /admin/file-access/{id}.
func (h *AdminHandler) DeleteGrant(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteGrant(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
