package models

import "time"

// UploadState is the lifecycle state of an upload session. Transitions are
// monotone: open → finalizing → completed, with open → {aborted, expired} and
// finalizing → open (recoverable failure) or finalizing → aborted
// (unrecoverable integrity failure). Expired sessions never resurrect.
type UploadState string

const (
	UploadOpen       UploadState = "open"
	UploadFinalizing UploadState = "finalizing"
	UploadCompleted  UploadState = "completed"
	UploadAborted    UploadState = "aborted"
	UploadExpired    UploadState = "expired"
)

// CanTransition reports whether moving from the current state to next is a
// legal state machine edge.
func (s UploadState) CanTransition(next UploadState) bool {
	switch s {
	case UploadOpen:
		return next == UploadFinalizing || next == UploadAborted || next == UploadExpired
	case UploadFinalizing:
		return next == UploadCompleted || next == UploadOpen || next == UploadAborted
	default:
		return false
	}
}

// UploadSession tracks a resumable chunked upload. The workspace directory on
// disk is the source of truth for received chunk indices; the row carries the
// expected parameters and the state machine.
type UploadSession struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	UploaderID     string `gorm:"index;size:36" json:"uploaderId"`
	FileName       string `gorm:"not null;size:255" json:"fileName"`
	FileSize       int64  `gorm:"not null" json:"fileSize"`
	TotalChunks    int    `gorm:"not null" json:"totalChunks"`
	ExpectedSHA256 string `gorm:"not null;size:64" json:"expectedSha256"`
	MimeType       string `gorm:"size:100" json:"mimeType"`
	Title          string `gorm:"size:255" json:"title"`

	// Workspace is the reassembly directory, owned exclusively by this
	// session until finalize or abort.
	Workspace string `gorm:"size:512" json:"-"`

	State string `gorm:"size:20;default:open;index" json:"state"`

	// FileID is set once finalize completes.
	FileID string `gorm:"size:36" json:"fileId,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
	ExpiresAt time.Time `gorm:"index" json:"expiresAt"`
}

// TableName returns the table name for UploadSession.
func (UploadSession) TableName() string {
	return "upload_sessions"
}

// IsExpired reports whether the session TTL has lapsed.
func (u *UploadSession) IsExpired(now time.Time) bool {
	return now.After(u.ExpiresAt)
}
