package store

import (
	"context"

	"github.com/audiovault/audiovault/pkg/models"
)

func (s *GORMStore) GetCheckpoint(ctx context.Context, id string) (*models.Checkpoint, error) {
	return getByField[models.Checkpoint](s.db, ctx, "id", id, models.ErrCheckpointNotFound)
}

// ListCheckpoints returns a user's bookmarks for one file, in play order.
func (s *GORMStore) ListCheckpoints(ctx context.Context, userID, fileID string) ([]*models.Checkpoint, error) {
	return listWhere[models.Checkpoint](s.db, ctx, "timestamp", "user_id = ? AND file_id = ?", userID, fileID)
}

func (s *GORMStore) CreateCheckpoint(ctx context.Context, cp *models.Checkpoint) (string, error) {
	return createWithID(s.db, ctx, cp, func(c *models.Checkpoint, id string) { c.ID = id }, cp.ID, models.ErrCheckpointNotFound)
}

func (s *GORMStore) UpdateCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	result := s.db.WithContext(ctx).Model(&models.Checkpoint{}).
		Where("id = ? AND user_id = ?", cp.ID, cp.UserID).
		Updates(map[string]any{
			"timestamp":   cp.Timestamp,
			"label":       cp.Label,
			"description": cp.Description,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrCheckpointNotFound
	}
	return nil
}

func (s *GORMStore) DeleteCheckpoint(ctx context.Context, id, userID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Checkpoint{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrCheckpointNotFound
	}
	return nil
}
