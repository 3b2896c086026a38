package models

import (
	"fmt"
	"time"
)

// Visibility controls who may stream an audio file without an explicit grant.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// IsValid checks if the value is a known Visibility.
func (v Visibility) IsValid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// AudioFile is a content-addressed audio original. The stored bytes always
// match SHA256 exactly; uploads that fail that check never produce a row.
type AudioFile struct {
	ID         string  `gorm:"primaryKey;size:36" json:"id"`
	Title      string  `gorm:"not null;size:255" json:"title"`
	UploaderID string  `gorm:"index;size:36" json:"uploaderId"`
	SHA256     string  `gorm:"index;not null;size:64" json:"sha256"`
	Size       int64   `gorm:"not null" json:"size"`
	MimeType   string  `gorm:"size:100" json:"mimeType"`
	Duration   float64 `json:"duration"` // seconds
	Visibility string  `gorm:"size:20;default:private" json:"visibility"`

	// StoragePath is the durable location of the original bytes,
	// relative to the media root.
	StoragePath string `gorm:"size:512" json:"-"`

	// Cover image: either a filesystem path or an inline base64 payload,
	// depending on the storage.covers_inline option.
	CoverPath   string `gorm:"size:512" json:"-"`
	CoverInline string `gorm:"type:text" json:"-"`
	CoverMime   string `gorm:"size:100" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Chapters []Chapter `gorm:"foreignKey:FileID" json:"chapters,omitempty"`
}

// TableName returns the table name for AudioFile.
func (AudioFile) TableName() string {
	return "audio_files"
}

// IsPublic reports whether the file is streamable without a grant.
func (f *AudioFile) IsPublic() bool {
	return f.Visibility == string(VisibilityPublic)
}

// HasCover reports whether any cover image is stored.
func (f *AudioFile) HasCover() bool {
	return f.CoverPath != "" || f.CoverInline != ""
}

// Validate checks if the file has valid configuration.
func (f *AudioFile) Validate() error {
	if f.Title == "" {
		return fmt.Errorf("title is required")
	}
	if f.Visibility != "" && !Visibility(f.Visibility).IsValid() {
		return fmt.Errorf("invalid visibility %q", f.Visibility)
	}
	return nil
}
