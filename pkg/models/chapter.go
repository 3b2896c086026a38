package models

import (
	"fmt"
	"sort"
	"time"
)

// ChapterStatus is the lifecycle state of a chapter.
type ChapterStatus string

const (
	ChapterPending ChapterStatus = "pending"
	ChapterReady   ChapterStatus = "ready"
	ChapterFailed  ChapterStatus = "failed"
)

// Chapter storage backends for the encrypted segment blob.
const (
	ChapterStorageFilesystem = "filesystem"
	ChapterStorageDatabase   = "database"
	ChapterStorageS3         = "s3"
)

// Chapter is a named, time-bounded segment of an audio file, encrypted as a
// standalone unit. A ready chapter is independently decryptable with the root
// key plus the metadata stored here; it never depends on sibling chapters.
type Chapter struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	FileID  string `gorm:"index;not null;size:36" json:"fileId"`
	Ordinal int    `gorm:"not null" json:"ordinal"`
	Label   string `gorm:"not null;size:255" json:"label"`

	StartSeconds float64  `gorm:"not null" json:"startTime"`
	EndSeconds   *float64 `json:"endTime,omitempty"` // nil = to end of file

	Status string `gorm:"size:20;default:pending;index" json:"status"`

	// Blob location: storage backend plus a backend-specific key
	// (filesystem path, badger key, or s3 object key).
	StorageBackend string `gorm:"size:20" json:"-"`
	Location       string `gorm:"size:512" json:"-"`

	// Sizes of the plaintext segment and the framed ciphertext blob.
	PlainSize     int64 `json:"plainSize,omitempty"`
	EncryptedSize int64 `json:"-"`

	// Crypto metadata. Scheme identifies the encryption format; the nonce
	// prefix seeds per-block nonces. WrappedKey is only set when the data
	// key is random rather than HKDF-derived.
	Scheme      uint8  `json:"-"`
	KeyMode     string `gorm:"size:20" json:"-"` // "hkdf" or "wrapped"
	WrappedKey  []byte `json:"-"`
	NoncePrefix []byte `gorm:"size:16" json:"-"`

	ErrorCode   string     `gorm:"size:50" json:"errorCode,omitempty"`
	FinalizedAt *time.Time `json:"finalizedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for Chapter.
func (Chapter) TableName() string {
	return "chapters"
}

// IsReady reports whether the chapter can be streamed.
func (c *Chapter) IsReady() bool {
	return c.Status == string(ChapterReady)
}

// Validate checks the chapter's time bounds.
func (c *Chapter) Validate() error {
	if c.Label == "" {
		return fmt.Errorf("chapter label is required")
	}
	if c.StartSeconds < 0 {
		return fmt.Errorf("chapter start must be >= 0")
	}
	if c.EndSeconds != nil && *c.EndSeconds <= c.StartSeconds {
		return fmt.Errorf("chapter end must be after start")
	}
	return nil
}

// ValidateChapterSet checks ordering and non-overlap invariants across the
// chapters of one file. Chapters must be strictly ordered by start time and
// ranges must not overlap; only the last chapter may leave EndSeconds nil.
func ValidateChapterSet(chapters []Chapter, duration float64) error {
	if len(chapters) == 0 {
		return nil
	}

	sorted := make([]Chapter, len(chapters))
	copy(sorted, chapters)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartSeconds < sorted[j].StartSeconds
	})

	for i := range sorted {
		c := &sorted[i]
		if err := c.Validate(); err != nil {
			return err
		}
		if duration > 0 && c.StartSeconds >= duration {
			return ErrChapterOutOfRange
		}
		if duration > 0 && c.EndSeconds != nil && *c.EndSeconds > duration {
			return ErrChapterOutOfRange
		}
		if i > 0 {
			prev := &sorted[i-1]
			if prev.StartSeconds == c.StartSeconds {
				return ErrChapterOverlaps
			}
			if prev.EndSeconds == nil || *prev.EndSeconds > c.StartSeconds {
				return ErrChapterOverlaps
			}
		}
	}
	return nil
}
