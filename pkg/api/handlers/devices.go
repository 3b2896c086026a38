package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/audiovault/audiovault/pkg/api/middleware"
	"github.com/audiovault/audiovault/pkg/store"
)

// DeviceHandler handles device listing and sign-out endpoints.
type DeviceHandler struct {
	store *store.GORMStore
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(s *store.GORMStore) *DeviceHandler {
	return &DeviceHandler{store: s}
}

// List handles GET /devices. Returns the caller's devices.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	devices, err := h.store.ListDevices(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "devices": devices})
}

// Deactivate handles DELETE /devices/{deviceId}. Signing out a device also
// revokes its sessions, killing any DRM tokens bound to them.
func (h *DeviceHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}
	deviceID := chi.URLParam(r, "deviceId")

	if err := h.store.DeactivateDevice(r.Context(), claims.UserID, deviceID, "signed out"); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// DeactivateOthers handles DELETE /devices/others. Keeps the calling device
// active and signs out everything else.
func (h *DeviceHandler) DeactivateOthers(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	count, err := h.store.DeactivateOtherDevices(r.Context(), claims.UserID, claims.DeviceID, "signed out elsewhere")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deactivated": count})
}
