package models

import "time"

// Checkpoint is a per-user, per-file bookmark. It has no security role.
type Checkpoint struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	UserID      string    `gorm:"index;not null;size:36" json:"userId"`
	FileID      string    `gorm:"index;not null;size:36" json:"fileId"`
	Timestamp   float64   `gorm:"not null" json:"timestamp"` // seconds
	Label       string    `gorm:"size:255" json:"label"`
	Description string    `gorm:"size:1024" json:"description,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for Checkpoint.
func (Checkpoint) TableName() string {
	return "checkpoints"
}
