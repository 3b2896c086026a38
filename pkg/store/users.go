package store

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/audiovault/audiovault/pkg/models"
)

// BcryptCost is the work factor for password verifiers.
const BcryptCost = 12

// HashPassword derives a bcrypt verifier from a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *GORMStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound)
}

func (s *GORMStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "email", models.NormalizeEmail(email), models.ErrUserNotFound)
}

func (s *GORMStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	return listWhere[models.User](s.db, ctx, "created_at", "")
}

// CreateUser persists a new user. The email is normalized for
// case-insensitive uniqueness; duplicates fail with ErrEmailTaken.
func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) (string, error) {
	user.Email = models.NormalizeEmail(user.Email)
	if user.Role == "" {
		user.Role = string(models.RoleUser)
	}
	if err := user.Validate(); err != nil {
		return "", err
	}
	user.CreatedAt = time.Now()
	return createWithID(s.db, ctx, user, func(u *models.User, id string) { u.ID = id }, user.ID, models.ErrEmailTaken)
}

// UpdateUserDetails updates the mutable profile fields of a user.
func (s *GORMStore) UpdateUserDetails(ctx context.Context, id, name, email string) (*models.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if name != "" {
		updates["name"] = name
	}
	if email != "" {
		updates["email"] = models.NormalizeEmail(email)
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, models.ErrEmailTaken
		}
		return nil, err
	}
	return user, nil
}

// DeleteUser removes a user and the rows it owns. Deletion is forbidden
// while the user still has live sessions; revoke them first.
func (s *GORMStore) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", id).First(&user).Error; err != nil {
			return convertNotFoundError(err, models.ErrUserNotFound)
		}

		var live int64
		now := time.Now()
		if err := tx.Model(&models.Session{}).
			Where("user_id = ? AND revoked = ? AND expires_at > ?", id, false, now).
			Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return models.ErrUserHasSessions
		}

		for _, m := range []any{&models.Session{}, &models.Device{}, &models.Checkpoint{}, &models.FileAccess{}} {
			if err := tx.Where("user_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&user).Error
	})
}

// SetPassword replaces the password verifier and clears any login failure
// state tied to the old credentials.
func (s *GORMStore) SetPassword(ctx context.Context, userID, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"password_hash": hash, "failed_logins": 0, "lock_until": nil})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// VerifyPassword checks a plaintext password against the stored verifier.
func (s *GORMStore) VerifyPassword(user *models.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

// RecordLoginFailure increments the failure counter and, above threshold,
// sets a lock-until backoff. Returns the updated failure count.
func (s *GORMStore) RecordLoginFailure(ctx context.Context, userID string, threshold int, backoff time.Duration) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			return convertNotFoundError(err, models.ErrUserNotFound)
		}

		user.FailedLogins++
		count = user.FailedLogins
		updates := map[string]any{"failed_logins": user.FailedLogins}
		if threshold > 0 && user.FailedLogins >= threshold {
			until := time.Now().Add(backoff)
			updates["lock_until"] = &until
		}
		return tx.Model(&user).Updates(updates).Error
	})
	return count, err
}

// ResetLoginFailures clears the failure counter and any backoff lock.
func (s *GORMStore) ResetLoginFailures(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"failed_logins": 0, "lock_until": nil}).Error
}

// LockUser sets the explicit lock flag. Only admin unlock clears it.
func (s *GORMStore) LockUser(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("locked", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// UnlockUser clears both lock forms and the failure counter.
func (s *GORMStore) UnlockUser(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"locked": false, "lock_until": nil, "failed_logins": 0})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin stamps the user's last successful login time.
func (s *GORMStore) UpdateLastLogin(ctx context.Context, userID string, timestamp time.Time) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_login", timestamp)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// EnsureAdminUser creates the bootstrap admin account if no admin exists.
// Returns the created user's id, or empty string if an admin was present.
func (s *GORMStore) EnsureAdminUser(ctx context.Context, email, password string) (string, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("role = ?", string(models.RoleAdmin)).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count > 0 {
		return "", nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", err
	}

	admin := &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         "Administrator",
		Role:         string(models.RoleAdmin),
	}
	id, err := s.CreateUser(ctx, admin)
	if errors.Is(err, models.ErrEmailTaken) {
		// Raced with another bootstrap; treat as already present.
		return "", nil
	}
	return id, err
}
