package models

import "errors"

// Common errors for store and service operations. Handlers map these onto
// HTTP statuses and stable wire codes (see codes.go).
var (
	// User errors
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserLocked         = errors.New("user account is locked")
	ErrUserHasSessions    = errors.New("user has active sessions")

	// Device errors
	ErrDeviceNotFound         = errors.New("device not found")
	ErrDeviceApprovalRequired = errors.New("device approval required")
	ErrDevicePolicyViolation  = errors.New("single-device policy violated")
	ErrDeviceMismatch         = errors.New("device does not match session")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRevoked  = errors.New("session has been revoked")
	ErrSessionExpired  = errors.New("session has expired")

	// File errors
	ErrFileNotFound  = errors.New("audio file not found")
	ErrAccessDenied  = errors.New("access to file denied")
	ErrAccessExpired = errors.New("file access grant has expired")
	ErrGrantNotFound = errors.New("file access grant not found")

	// Upload errors
	ErrUploadNotFound  = errors.New("upload session not found")
	ErrUploadExpired   = errors.New("upload session has expired")
	ErrUploadBusy      = errors.New("upload finalization already in progress")
	ErrChunkConflict   = errors.New("chunk conflicts with previously uploaded bytes")
	ErrIntegrityFailed = errors.New("assembled content failed integrity check")
	ErrUploadState     = errors.New("upload session is not in a valid state")

	// Chapter errors
	ErrChapterNotFound   = errors.New("chapter not found")
	ErrChapterOverlaps   = errors.New("chapter ranges overlap")
	ErrChapterOutOfRange = errors.New("chapter range exceeds file duration")
	ErrChapterNotReady   = errors.New("chapter is not ready for streaming")
	ErrChapterReadOnly   = errors.New("ready chapter cannot be modified without reset")

	// Checkpoint errors
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// DRM errors
	ErrInvalidToken = errors.New("invalid stream token")
	ErrTokenExpired = errors.New("stream token has expired")
	ErrInvalidRange = errors.New("requested range is not satisfiable")

	// Storage/crypto errors
	ErrDecryptFailed = errors.New("chapter decryption failed")
	ErrBlobNotFound  = errors.New("blob not found")
)
