package models

// Wire error codes carried in the "code" field of problem responses.
// These are part of the API contract: clients branch on codes, never on
// message strings.
const (
	// Authentication
	CodeMissingCredential      = "MissingCredential"
	CodeInvalidCredential      = "InvalidCredential"
	CodeLocked                 = "Locked"
	CodeDeviceApprovalRequired = "DeviceApprovalRequired"
	CodePolicyViolation        = "PolicyViolation"

	// Authorization
	CodeForbidden     = "Forbidden"
	CodeAccessExpired = "AccessExpired"

	// Upload
	CodeChunkConflict   = "ChunkConflict"
	CodeIntegrityFailed = "IntegrityFailed"
	CodeUploadExpired   = "UploadExpired"
	CodeUploadNotFound  = "UploadNotFound"
	CodeUploadBusy      = "UploadBusy"

	// Chapters
	CodeChapterOverlaps   = "ChapterOverlaps"
	CodeChapterOutOfRange = "ChapterOutOfRange"
	CodeChapterNotReady   = "ChapterNotReady"
	CodeFinalizeFailed    = "FinalizeFailed"

	// DRM
	CodeInvalidToken        = "InvalidToken"
	CodeTokenExpired        = "TokenExpired"
	CodeDeviceMismatch      = "DeviceMismatch"
	CodeRangeNotSatisfiable = "RangeNotSatisfiable"

	// Storage/crypto
	CodeDecryptFailed = "DecryptFailed"
	CodeIOFailed      = "IOFailed"

	// Generic
	CodeNotFound   = "NotFound"
	CodeBadRequest = "BadRequest"
)
