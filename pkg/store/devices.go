package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/audiovault/audiovault/pkg/models"
)

func (s *GORMStore) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	return getByField[models.Device](s.db, ctx, "id", id, models.ErrDeviceNotFound)
}

// GetDeviceByFingerprint finds a user's device record by its fingerprint.
func (s *GORMStore) GetDeviceByFingerprint(ctx context.Context, userID, fingerprint string) (*models.Device, error) {
	var device models.Device
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
		First(&device).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrDeviceNotFound)
	}
	return &device, nil
}

// ListDevices returns all device records for a user, most recent first.
func (s *GORMStore) ListDevices(ctx context.Context, userID string) ([]*models.Device, error) {
	return listWhere[models.Device](s.db, ctx, "last_activity DESC", "user_id = ?", userID)
}

// ListActiveDevices returns the user's currently active devices.
func (s *GORMStore) ListActiveDevices(ctx context.Context, userID string) ([]*models.Device, error) {
	return listWhere[models.Device](s.db, ctx, "last_activity DESC", "user_id = ? AND active = ?", userID, true)
}

// TouchDevice updates the device's last-activity timestamp.
func (s *GORMStore) TouchDevice(ctx context.Context, deviceID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", deviceID).
		Update("last_activity", at).Error
}

// DeactivateDevice marks one device inactive and revokes its live sessions.
func (s *GORMStore) DeactivateDevice(ctx context.Context, userID, deviceID, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Device{}).
			Where("id = ? AND user_id = ?", deviceID, userID).
			Update("active", false)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrDeviceNotFound
		}
		return revokeSessionsTx(tx, "device_id = ?", reason, deviceID)
	})
}

// DeactivateOtherDevices marks every device except keepDeviceID inactive and
// revokes their sessions.
func (s *GORMStore) DeactivateOtherDevices(ctx context.Context, userID, keepDeviceID, reason string) (int64, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Device{}).
			Where("user_id = ? AND id <> ? AND active = ?", userID, keepDeviceID, true).
			Update("active", false)
		if result.Error != nil {
			return result.Error
		}
		affected = result.RowsAffected
		return revokeSessionsTx(tx, "user_id = ? AND device_id <> ?", reason, userID, keepDeviceID)
	})
	return affected, err
}
