package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/audiovault/audiovault/pkg/models"
)

func (s *GORMStore) GetFile(ctx context.Context, id string) (*models.AudioFile, error) {
	return getByField[models.AudioFile](s.db, ctx, "id", id, models.ErrFileNotFound)
}

// ListFiles returns every audio file, newest first.
func (s *GORMStore) ListFiles(ctx context.Context) ([]*models.AudioFile, error) {
	return listWhere[models.AudioFile](s.db, ctx, "created_at DESC", "")
}

// ListVisibleFiles returns the files a non-admin user may see: public files,
// own uploads, and unexpired grants.
func (s *GORMStore) ListVisibleFiles(ctx context.Context, userID string) ([]*models.AudioFile, error) {
	now := time.Now()
	var files []*models.AudioFile
	err := s.db.WithContext(ctx).
		Where("visibility = ?", string(models.VisibilityPublic)).
		Or("uploader_id = ?", userID).
		Or("id IN (?)", s.db.Model(&models.FileAccess{}).
			Select("file_id").
			Where("user_id = ? AND can_view = ? AND (expires_at IS NULL OR expires_at > ?)", userID, true, now)).
		Order("created_at DESC").
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *GORMStore) CreateFile(ctx context.Context, file *models.AudioFile) (string, error) {
	if err := file.Validate(); err != nil {
		return "", err
	}
	return createWithID(s.db, ctx, file, func(f *models.AudioFile, id string) { f.ID = id }, file.ID, models.ErrFileNotFound)
}

// UpdateFile updates mutable file metadata fields.
func (s *GORMStore) UpdateFile(ctx context.Context, file *models.AudioFile) error {
	result := s.db.WithContext(ctx).Model(&models.AudioFile{}).
		Where("id = ?", file.ID).
		Select("Title", "Visibility", "CoverPath", "CoverInline", "CoverMime", "Duration").
		Updates(file)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}

// DeleteFile removes a file row with its chapters, grants and checkpoints.
// The caller is responsible for removing blobs and the original bytes.
func (s *GORMStore) DeleteFile(ctx context.Context, id string) (*models.AudioFile, error) {
	var file models.AudioFile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&file).Error; err != nil {
			return convertNotFoundError(err, models.ErrFileNotFound)
		}
		for _, m := range []any{&models.Chapter{}, &models.FileAccess{}, &models.Checkpoint{}} {
			if err := tx.Where("file_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&file).Error
	})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// CanAccessFile evaluates the authorization predicate for user U against
// file F: public ∨ unexpired grant ∨ admin ∨ uploader.
func (s *GORMStore) CanAccessFile(ctx context.Context, user *models.User, file *models.AudioFile) (bool, error) {
	if file.IsPublic() || user.IsAdmin() || file.UploaderID == user.ID {
		return true, nil
	}

	var grant models.FileAccess
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND file_id = ?", user.ID, file.ID).
		First(&grant).Error
	if err != nil {
		if convertNotFoundError(err, models.ErrGrantNotFound) == models.ErrGrantNotFound {
			return false, nil
		}
		return false, err
	}
	if grant.IsExpired(time.Now()) {
		return false, models.ErrAccessExpired
	}
	return grant.CanView, nil
}
