package models

import (
	"fmt"
	"time"
)

// DeviceType classifies the client platform a device record was created from.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceTablet  DeviceType = "tablet"
	DeviceMobile  DeviceType = "mobile"
)

// IsValid checks if the type is a known DeviceType.
func (t DeviceType) IsValid() bool {
	return t == DeviceDesktop || t == DeviceTablet || t == DeviceMobile
}

// Device is a client installation bound to a user. The fingerprint is an
// opaque client-generated identifier; it binds sessions and stream tokens but
// is never trusted as an authentication factor on its own.
//
// Invariant: while the owning user is in single-device mode, at most one
// device per user has Active=true at any instant.
type Device struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"not null;size:36;uniqueIndex:idx_user_fingerprint" json:"userId"`
	Fingerprint  string    `gorm:"not null;size:255;uniqueIndex:idx_user_fingerprint" json:"fingerprint"`
	Name         string    `gorm:"size:255" json:"name"`
	Type         string    `gorm:"size:50;default:desktop" json:"type"`
	Platform     string    `gorm:"size:255" json:"platform,omitempty"`
	Timezone     string    `gorm:"size:100" json:"timezone,omitempty"`
	Language     string    `gorm:"size:50" json:"language,omitempty"`
	Active       bool      `gorm:"default:false" json:"active"`
	FirstSeen    time.Time `gorm:"autoCreateTime" json:"firstSeen"`
	LastActivity time.Time `json:"lastActivity"`
}

// TableName returns the table name for Device.
func (Device) TableName() string {
	return "devices"
}

// Validate checks if the device has valid configuration.
func (d *Device) Validate() error {
	if d.UserID == "" {
		return fmt.Errorf("device user id is required")
	}
	if d.Fingerprint == "" {
		return fmt.Errorf("device fingerprint is required")
	}
	if d.Type != "" && !DeviceType(d.Type).IsValid() {
		return fmt.Errorf("invalid device type %q", d.Type)
	}
	return nil
}
