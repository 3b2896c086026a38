package models

import "time"

// Session is a device-bound login session. A bearer credential resolves to
// exactly one live session; revoked or expired sessions are rejected by the
// streaming engine regardless of the signature validity of derived tokens.
type Session struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	UserID        string     `gorm:"index;not null;size:36" json:"userId"`
	DeviceID      string     `gorm:"index;not null;size:36" json:"deviceId"`
	IssuedAt      time.Time  `json:"issuedAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	Revoked       bool       `gorm:"default:false" json:"revoked"`
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
	RevokedReason string     `gorm:"size:255" json:"revokedReason,omitempty"`
}

// TableName returns the table name for Session.
func (Session) TableName() string {
	return "sessions"
}

// IsLive reports whether the session is neither revoked nor expired at now.
func (s *Session) IsLive(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}
