package models

import (
	"fmt"
	"strings"
	"time"
)

// UserRole represents the role of a user in the system.
type UserRole string

const (
	// RoleUser is a regular listener with access to granted files only.
	RoleUser UserRole = "user"
	// RoleAdmin is an administrator with full permissions.
	RoleAdmin UserRole = "admin"
)

// IsValid checks if the role is a valid UserRole.
func (r UserRole) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents an account that can authenticate and stream audio.
//
// Accounts are bound to devices: in single-device mode at most one device may
// be active at a time, and a second device activated after explicit
// acknowledgement locks the account pending admin unlock.
type User struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	Email        string `gorm:"uniqueIndex;not null;size:255" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	Name         string `gorm:"size:255" json:"name,omitempty"`
	Role         string `gorm:"default:user;size:50" json:"role"` // user, admin

	// Lock state. Locked is the explicit flag; LockUntil is the soft
	// brute-force backoff. Either one blocks login.
	Locked       bool       `gorm:"default:false" json:"locked"`
	LockUntil    *time.Time `json:"lockUntil,omitempty"`
	FailedLogins int        `gorm:"default:0" json:"-"`

	// MultiDeviceAllowed is an admin-granted exemption from the
	// single-device policy.
	MultiDeviceAllowed bool `gorm:"default:false" json:"multiDeviceAllowed"`

	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`

	Devices  []Device  `gorm:"foreignKey:UserID" json:"devices,omitempty"`
	Sessions []Session `gorm:"foreignKey:UserID" json:"-"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// NormalizeEmail lower-cases an email for case-insensitive uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsAdmin checks if the user has admin role.
func (u *User) IsAdmin() bool {
	return u.Role == string(RoleAdmin)
}

// IsLocked reports whether the account is currently locked, either by the
// explicit flag or by a lock-until timestamp in the future.
func (u *User) IsLocked(now time.Time) bool {
	if u.Locked {
		return true
	}
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// Validate checks if the user has valid configuration.
func (u *User) Validate() error {
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if u.Role != "" && !UserRole(u.Role).IsValid() {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	return nil
}
