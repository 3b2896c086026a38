package logger

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so logs aggregate and query cleanly.
const (
	// Request correlation
	KeyRequestID = "request_id"
	KeyClientIP  = "client_ip"

	// Identity
	KeyUserID    = "user_id"
	KeyDeviceID  = "device_id"
	KeySessionID = "session_id"

	// Domain entities
	KeyFileID    = "file_id"
	KeyChapterID = "chapter_id"
	KeyUploadID  = "upload_id"

	// Operation outcome
	KeyStatus   = "status"
	KeyDuration = "duration"
	KeyBytes    = "bytes"
	KeyError    = "error"

	// Token lifecycle
	KeyTokenType = "token_type"
	KeyKeyGen    = "key_generation"
)
