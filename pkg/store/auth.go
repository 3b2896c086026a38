package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/audiovault/audiovault/pkg/models"
)

// LoginPolicy carries the account-protection knobs applied during login.
type LoginPolicy struct {
	// MaxFailedLogins is the failure count at which a backoff lock is set.
	MaxFailedLogins int

	// LockoutBackoff is how long a brute-force lock lasts.
	LockoutBackoff time.Duration

	// SessionTTL is the lifetime of issued sessions.
	SessionTTL time.Duration
}

// DeviceInfo is the client-submitted device descriptor for login.
type DeviceInfo struct {
	Fingerprint string
	Name        string
	Type        string
	Platform    string
	Timezone    string
	Language    string
}

// LoginResult is the successful outcome of PerformLogin.
type LoginResult struct {
	User     *models.User
	Device   *models.Device
	Session  *models.Session
	Warnings []string
}

// PerformLogin verifies credentials and enforces the device-binding policy:
//
//  1. Unknown email or bad password fail ErrInvalidCredentials; bad passwords
//     also bump the failure counter and may set a backoff lock.
//  2. A locked account (explicit flag or lock-until in the future) fails
//     ErrUserLocked regardless of credential correctness.
//  3. A different active device without prior multi-device approval fails
//     ErrDeviceApprovalRequired; the caller may retry with approved=true.
//  4. Retrying with approved=true while another device is active locks the
//     account and fails ErrDevicePolicyViolation. A second device after
//     explicit acknowledgement is a policy violation pending admin unlock.
//  5. Otherwise the submitted device becomes the single active device, peers
//     are deactivated and their sessions revoked, and a session is issued.
func (s *GORMStore) PerformLogin(ctx context.Context, email, password string, info DeviceInfo, approved bool, policy LoginPolicy) (*LoginResult, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, models.ErrInvalidCredentials
	}

	if !s.VerifyPassword(user, password) {
		if _, ferr := s.RecordLoginFailure(ctx, user.ID, policy.MaxFailedLogins, policy.LockoutBackoff); ferr != nil {
			return nil, fmt.Errorf("recording login failure: %w", ferr)
		}
		return nil, models.ErrInvalidCredentials
	}

	now := time.Now()
	if user.IsLocked(now) {
		return nil, models.ErrUserLocked
	}

	result := &LoginResult{User: user}
	violation := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Find or create the device record for this fingerprint.
		var device models.Device
		derr := tx.Where("user_id = ? AND fingerprint = ?", user.ID, info.Fingerprint).
			First(&device).Error
		isNew := derr == gorm.ErrRecordNotFound
		if derr != nil && !isNew {
			return derr
		}

		// Check the single-device invariant against peers.
		var peers []models.Device
		q := tx.Where("user_id = ? AND active = ?", user.ID, true)
		if !isNew {
			q = q.Where("id <> ?", device.ID)
		}
		if err := q.Find(&peers).Error; err != nil {
			return err
		}

		if len(peers) > 0 && !user.MultiDeviceAllowed {
			if !approved {
				return models.ErrDeviceApprovalRequired
			}
			// Explicit acknowledgement of a second device: hard lock.
			// Returning nil commits the lock and the revocations; the
			// violation error is surfaced after the transaction.
			if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
				Update("locked", true).Error; err != nil {
				return err
			}
			if err := revokeSessionsTx(tx, "user_id = ?", "single-device policy violation", user.ID); err != nil {
				return err
			}
			violation = true
			return nil
		}

		if isNew {
			device = models.Device{
				ID:          uuid.New().String(),
				UserID:      user.ID,
				Fingerprint: info.Fingerprint,
				Name:        info.Name,
				Type:        info.Type,
				Platform:    info.Platform,
				Timezone:    info.Timezone,
				Language:    info.Language,
				FirstSeen:   now,
			}
			if device.Type == "" {
				device.Type = string(models.DeviceDesktop)
			}
			if err := device.Validate(); err != nil {
				return err
			}
			if err := tx.Create(&device).Error; err != nil {
				return err
			}
			result.Warnings = append(result.Warnings, "new device registered")
		}

		// Activate the submitted device and deactivate peers.
		if err := tx.Model(&models.Device{}).Where("id = ?", device.ID).
			Updates(map[string]any{"active": true, "last_activity": now}).Error; err != nil {
			return err
		}
		device.Active = true
		device.LastActivity = now

		if !user.MultiDeviceAllowed {
			res := tx.Model(&models.Device{}).
				Where("user_id = ? AND id <> ? AND active = ?", user.ID, device.ID, true).
				Update("active", false)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("%d other device(s) signed out", res.RowsAffected))
			}
			if err := revokeSessionsTx(tx, "user_id = ? AND device_id <> ?", "signed in on another device", user.ID, device.ID); err != nil {
				return err
			}
		}

		// Reset the failure counter and issue the session.
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Updates(map[string]any{"failed_logins": 0, "lock_until": nil, "last_login": now}).Error; err != nil {
			return err
		}

		session := &models.Session{
			ID:        uuid.New().String(),
			UserID:    user.ID,
			DeviceID:  device.ID,
			IssuedAt:  now,
			ExpiresAt: now.Add(policy.SessionTTL),
		}
		if err := tx.Create(session).Error; err != nil {
			return err
		}

		result.Device = &device
		result.Session = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	if violation {
		return nil, models.ErrDevicePolicyViolation
	}
	return result, nil
}
