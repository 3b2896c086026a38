package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/audiovault/audiovault/internal/logger"
	"github.com/audiovault/audiovault/pkg/api/auth"
	"github.com/audiovault/audiovault/pkg/api/middleware"
	"github.com/audiovault/audiovault/pkg/metrics"
	"github.com/audiovault/audiovault/pkg/models"
	"github.com/audiovault/audiovault/pkg/store"
)

// AuthHandler handles registration, login, and account endpoints.
type AuthHandler struct {
	store   *store.GORMStore
	jwt     *auth.JWTService
	policy  store.LoginPolicy
	metrics *metrics.VaultMetrics
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *store.GORMStore, jwt *auth.JWTService, policy store.LoginPolicy, m *metrics.VaultMetrics) *AuthHandler {
	return &AuthHandler{store: s, jwt: jwt, policy: policy, metrics: m}
}

// DeviceData is the client-submitted device descriptor.
type DeviceData struct {
	DeviceID          string `json:"deviceId"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	DeviceName        string `json:"deviceName"`
	Timezone          string `json:"timezone"`
	Language          string `json:"language"`
	Platform          string `json:"platform"`
	Type              string `json:"type"`
}

func (d DeviceData) toInfo() store.DeviceInfo {
	fingerprint := d.DeviceFingerprint
	if fingerprint == "" {
		fingerprint = d.DeviceID
	}
	return store.DeviceInfo{
		Fingerprint: fingerprintOrUnknown(fingerprint),
		Name:        d.DeviceName,
		Type:        d.Type,
		Platform:    d.Platform,
		Timezone:    d.Timezone,
		Language:    d.Language,
	}
}

func fingerprintOrUnknown(fp string) string {
	if fp == "" {
		return "unknown"
	}
	return fp
}

// RegisterRequest is the request body for POST /auth/register.
type RegisterRequest struct {
	Email      string     `json:"email"`
	Password   string     `json:"password"`
	Name       string     `json:"name"`
	DeviceData DeviceData `json:"deviceData"`
}

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Email          string     `json:"email"`
	Password       string     `json:"password"`
	DeviceApproved bool       `json:"deviceApproved"`
	DeviceData     DeviceData `json:"deviceData"`
}

// SessionResponse is the device session block of a login response.
type SessionResponse struct {
	SessionID string    `json:"sessionId"`
	DeviceID  string    `json:"deviceId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginResponse is the success response for register and login.
type LoginResponse struct {
	Success       bool             `json:"success"`
	Token         string           `json:"token"`
	ExpiresAt     time.Time        `json:"expiresAt"`
	User          *models.User     `json:"user"`
	DeviceSession *SessionResponse `json:"deviceSession,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
}

// approvalResponse is the login response asking the client to confirm a
// device switch.
type approvalResponse struct {
	Success                bool   `json:"success"`
	RequiresDeviceApproval bool   `json:"requiresDeviceApproval"`
	Message                string `json:"message"`
}

// Register handles POST /auth/register. The account is created and
// immediately logged in on the submitted device.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
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

	hash, err := store.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := &models.User{
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		Role:         string(models.RoleUser),
	}
	if _, err := h.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}

	// First login on the registering device.
	result, err := h.store.PerformLogin(r.Context(), req.Email, req.Password, req.DeviceData.toInfo(), false, h.policy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeLogin(w, r, result)
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		h.metrics.RecordLogin("invalid")
		writeProblem(w, http.StatusBadRequest, models.CodeMissingCredential, "email and password are required")
		return
	}

	result, err := h.store.PerformLogin(r.Context(), req.Email, req.Password, req.DeviceData.toInfo(), req.DeviceApproved, h.policy)
	switch {
	case errors.Is(err, models.ErrDeviceApprovalRequired):
		h.metrics.RecordLogin("approval_required")
		writeJSON(w, http.StatusConflict, approvalResponse{
			RequiresDeviceApproval: true,
			Message:                "another device is active; confirm to switch devices",
		})
		return
	case errors.Is(err, models.ErrDevicePolicyViolation):
		h.metrics.RecordLogin("policy_violation")
		writeError(w, r, err)
		return
	case errors.Is(err, models.ErrUserLocked):
		h.metrics.RecordLogin("locked")
		writeError(w, r, err)
		return
	case err != nil:
		h.metrics.RecordLogin("invalid")
		writeError(w, r, err)
		return
	}

	h.metrics.RecordLogin("success")
	h.writeLogin(w, r, result)
}

func (h *AuthHandler) writeLogin(w http.ResponseWriter, r *http.Request, result *store.LoginResult) {
	token, expiresAt, err := h.jwt.GenerateToken(result.User, result.Session)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.InfoCtx(r.Context(), "login succeeded",
		logger.KeyUserID, result.User.ID,
		logger.KeyDeviceID, result.Device.ID,
		logger.KeySessionID, result.Session.ID)

	writeJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt,
		User:      result.User,
		DeviceSession: &SessionResponse{
			SessionID: result.Session.ID,
			DeviceID:  result.Device.ID,
			ExpiresAt: result.Session.ExpiresAt,
		},
		Warnings: result.Warnings,
	})
}

// Logout handles POST /auth/logout. It revokes the calling session and
// deactivates the calling device; every DRM token bound to the session dies
// with it.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	if err := h.store.RevokeSession(r.Context(), claims.SessionID, "logout"); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.DeactivateDevice(r.Context(), claims.UserID, claims.DeviceID, "logout"); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	user, err := h.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

// UpdateDetailsRequest is the request body for PUT /auth/updatedetails.
type UpdateDetailsRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpdateDetails handles PUT /auth/updatedetails.
func (h *AuthHandler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	var req UpdateDetailsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, err := h.store.UpdateUserDetails(r.Context(), claims.UserID, req.Name, req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}
