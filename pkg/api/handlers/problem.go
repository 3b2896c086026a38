// Package handlers implements the AudioVault REST API endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/audiovault/audiovault/internal/logger"
	"github.com/audiovault/audiovault/pkg/api/auth"
	"github.com/audiovault/audiovault/pkg/models"
)

// Problem is the error response body. Clients branch on Code, which is a
// stable wire contract; Message is human-readable and may change.
type Problem struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("encoding response failed", logger.KeyError, err)
	}
}

// writeProblem writes an error response with a stable code.
func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Problem{Success: false, Code: code, Message: message})
}

// errorStatus maps a service error onto an HTTP status and wire code.
// Unknown errors map to 500/IOFailed without leaking their message.
func errorStatus(err error) (int, string, string) {
	switch {
	// Authentication
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized, models.CodeInvalidCredential, "invalid email or password"
	case errors.Is(err, models.ErrUserLocked):
		return http.StatusForbidden, models.CodeLocked, "account is locked"
	case errors.Is(err, models.ErrDeviceApprovalRequired):
		return http.StatusConflict, models.CodeDeviceApprovalRequired, "device approval required"
	case errors.Is(err, models.ErrDevicePolicyViolation):
		return http.StatusForbidden, models.CodePolicyViolation, "single-device policy violated; account locked"
	case errors.Is(err, models.ErrEmailTaken):
		return http.StatusConflict, models.CodeBadRequest, "email already registered"
	case errors.Is(err, models.ErrUserHasSessions):
		return http.StatusConflict, models.CodeBadRequest, "user still has active sessions"

	// Sessions and devices
	case errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrSessionRevoked),
		errors.Is(err, models.ErrSessionExpired):
		return http.StatusUnauthorized, models.CodeInvalidToken, "session is no longer valid"
	case errors.Is(err, models.ErrDeviceMismatch):
		return http.StatusForbidden, models.CodeDeviceMismatch, "request device does not match session device"
	case errors.Is(err, models.ErrDeviceNotFound):
		return http.StatusNotFound, models.CodeNotFound, "device not found"

	// Authorization
	case errors.Is(err, models.ErrAccessDenied):
		return http.StatusForbidden, models.CodeForbidden, "access denied"
	case errors.Is(err, models.ErrAccessExpired):
		return http.StatusForbidden, models.CodeAccessExpired, "file access grant has expired"

	// Uploads
	case errors.Is(err, models.ErrUploadNotFound):
		return http.StatusNotFound, models.CodeUploadNotFound, "upload session not found"
	case errors.Is(err, models.ErrUploadExpired):
		return http.StatusGone, models.CodeUploadExpired, "upload session has expired"
	case errors.Is(err, models.ErrUploadBusy):
		return http.StatusConflict, models.CodeUploadBusy, "finalization already in progress"
	case errors.Is(err, models.ErrChunkConflict):
		return http.StatusConflict, models.CodeChunkConflict, "chunk conflicts with previously uploaded bytes"
	case errors.Is(err, models.ErrIntegrityFailed):
		return http.StatusUnprocessableEntity, models.CodeIntegrityFailed, "assembled content failed integrity check"
	case errors.Is(err, models.ErrUploadState):
		return http.StatusConflict, models.CodeUploadBusy, "upload session is not in a valid state"

	// Chapters
	case errors.Is(err, models.ErrChapterNotFound):
		return http.StatusNotFound, models.CodeNotFound, "chapter not found"
	case errors.Is(err, models.ErrChapterOverlaps):
		return http.StatusBadRequest, models.CodeChapterOverlaps, "chapter ranges overlap"
	case errors.Is(err, models.ErrChapterOutOfRange):
		return http.StatusBadRequest, models.CodeChapterOutOfRange, "chapter range exceeds file duration"
	case errors.Is(err, models.ErrChapterNotReady):
		return http.StatusConflict, models.CodeChapterNotReady, "chapter is not ready for streaming"
	case errors.Is(err, models.ErrChapterReadOnly):
		return http.StatusConflict, models.CodeChapterNotReady, "ready chapter cannot be modified without reset"

	// DRM
	case errors.Is(err, models.ErrTokenExpired), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusForbidden, models.CodeTokenExpired, "token has expired"
	case errors.Is(err, models.ErrInvalidToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusForbidden, models.CodeInvalidToken, "invalid token"
	case errors.Is(err, models.ErrInvalidRange):
		return http.StatusRequestedRangeNotSatisfiable, models.CodeRangeNotSatisfiable, "requested range is not satisfiable"

	// Storage/crypto
	case errors.Is(err, models.ErrDecryptFailed):
		return http.StatusInternalServerError, models.CodeDecryptFailed, "decryption failed"

	// Generic lookups
	case errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrFileNotFound),
		errors.Is(err, models.ErrGrantNotFound),
		errors.Is(err, models.ErrCheckpointNotFound),
		errors.Is(err, models.ErrBlobNotFound):
		return http.StatusNotFound, models.CodeNotFound, "resource not found"
	}
	return http.StatusInternalServerError, models.CodeIOFailed, "internal error"
}

// writeError maps a service error and writes the problem response. Internal
// errors are logged with their cause but surfaced without it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := errorStatus(err)
	if status >= 500 {
		logger.ErrorCtx(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, logger.KeyError, err)
	}
	writeProblem(w, status, code, message)
}

func badRequest(w http.ResponseWriter, message string) {
	writeProblem(w, http.StatusBadRequest, models.CodeBadRequest, message)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeProblem(w, http.StatusUnauthorized, models.CodeMissingCredential, message)
}

func forbidden(w http.ResponseWriter, message string) {
	writeProblem(w, http.StatusForbidden, models.CodeForbidden, message)
}

func notFound(w http.ResponseWriter, message string) {
	writeProblem(w, http.StatusNotFound, models.CodeNotFound, message)
}

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful; a failure writes the error response itself.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}
