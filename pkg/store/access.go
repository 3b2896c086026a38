package store

import (
	"context"

	"github.com/audiovault/audiovault/pkg/models"
)

func (s *GORMStore) GetGrant(ctx context.Context, id string) (*models.FileAccess, error) {
	return getByField[models.FileAccess](s.db, ctx, "id", id, models.ErrGrantNotFound)
}

// ListGrantsForFile returns every access grant against one file.
func (s *GORMStore) ListGrantsForFile(ctx context.Context, fileID string) ([]*models.FileAccess, error) {
	return listWhere[models.FileAccess](s.db, ctx, "created_at", "file_id = ?", fileID)
}

// UpsertGrant creates or replaces the (user, file) grant.
func (s *GORMStore) UpsertGrant(ctx context.Context, grant *models.FileAccess) (string, error) {
	var existing models.FileAccess
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND file_id = ?", grant.UserID, grant.FileID).
		First(&existing).Error
	if err == nil {
		updates := map[string]any{
			"can_view":   grant.CanView,
			"expires_at": grant.ExpiresAt,
		}
		if uerr := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; uerr != nil {
			return "", uerr
		}
		return existing.ID, nil
	}
	if convertNotFoundError(err, models.ErrGrantNotFound) != models.ErrGrantNotFound {
		return "", err
	}
	return createWithID(s.db, ctx, grant, func(g *models.FileAccess, id string) { g.ID = id }, grant.ID, models.ErrGrantNotFound)
}

// UpdateGrant modifies an existing grant by id.
func (s *GORMStore) UpdateGrant(ctx context.Context, grant *models.FileAccess) error {
	result := s.db.WithContext(ctx).Model(&models.FileAccess{}).
		Where("id = ?", grant.ID).
		Updates(map[string]any{"can_view": grant.CanView, "expires_at": grant.ExpiresAt})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrGrantNotFound
	}
	return nil
}

// DeleteGrant removes a grant by id.
func (s *GORMStore) DeleteGrant(ctx context.Context, id string) error {
	return deleteByField[models.FileAccess](s.db, ctx, "id", id, models.ErrGrantNotFound)
}
