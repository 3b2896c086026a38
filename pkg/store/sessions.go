package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/audiovault/audiovault/pkg/models"
)

func (s *GORMStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return getByField[models.Session](s.db, ctx, "id", id, models.ErrSessionNotFound)
}

// GetLiveSession loads a session and rejects it when revoked or expired.
// Token validation goes through here so that logout is read-your-writes:
// once a revocation commits, every later lookup fails.
func (s *GORMStore) GetLiveSession(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if session.Revoked {
		return nil, models.ErrSessionRevoked
	}
	if !now.Before(session.ExpiresAt) {
		return nil, models.ErrSessionExpired
	}
	return session, nil
}

// ListUserSessions returns all sessions for a user, newest first.
func (s *GORMStore) ListUserSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return listWhere[models.Session](s.db, ctx, "issued_at DESC", "user_id = ?", userID)
}

// CreateSession issues a new session row for (user, device).
func (s *GORMStore) CreateSession(ctx context.Context, userID, deviceID string, ttl time.Duration) (*models.Session, error) {
	now := time.Now()
	session := &models.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		DeviceID:  deviceID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

// RevokeSession marks a single session revoked.
func (s *GORMStore) RevokeSession(ctx context.Context, sessionID, reason string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND revoked = ?", sessionID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": &now, "revoked_reason": reason})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// RevokeUserSessions revokes every live session of a user (force logout).
func (s *GORMStore) RevokeUserSessions(ctx context.Context, userID, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return revokeSessionsTx(tx, "user_id = ?", reason, userID)
	})
}

// revokeSessionsTx revokes all live sessions matching cond inside tx.
func revokeSessionsTx(tx *gorm.DB, cond string, reason string, args ...any) error {
	now := time.Now()
	return tx.Model(&models.Session{}).
		Where(cond, args...).
		Where("revoked = ?", false).
		Updates(map[string]any{"revoked": true, "revoked_at": &now, "revoked_reason": reason}).Error
}
