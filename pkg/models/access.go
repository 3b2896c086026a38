package models

import "time"

// FileAccess is a per-user grant against a private file, optionally expiring.
//
// Authorization for user U against file F:
//
//	F.public ∨ (grant with CanView ∧ not expired) ∨ U.admin ∨ U uploaded F
type FileAccess struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	UserID    string     `gorm:"not null;size:36;uniqueIndex:idx_user_file" json:"userId"`
	FileID    string     `gorm:"not null;size:36;uniqueIndex:idx_user_file" json:"fileId"`
	CanView   bool       `gorm:"default:true" json:"canView"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for FileAccess.
func (FileAccess) TableName() string {
	return "file_access"
}

// IsExpired reports whether the grant has lapsed.
func (a *FileAccess) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Allows reports whether the grant currently authorizes viewing.
func (a *FileAccess) Allows(now time.Time) bool {
	return a.CanView && !a.IsExpired(now)
}
