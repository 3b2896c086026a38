package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/audiovault/audiovault/pkg/models"
)

func (s *GORMStore) GetChapter(ctx context.Context, id string) (*models.Chapter, error) {
	return getByField[models.Chapter](s.db, ctx, "id", id, models.ErrChapterNotFound)
}

// ListChapters returns a file's chapters in ordinal order.
func (s *GORMStore) ListChapters(ctx context.Context, fileID string) ([]*models.Chapter, error) {
	return listWhere[models.Chapter](s.db, ctx, "ordinal", "file_id = ?", fileID)
}

// ListReadyChapters returns a file's ready chapters in ordinal order.
func (s *GORMStore) ListReadyChapters(ctx context.Context, fileID string) ([]*models.Chapter, error) {
	return listWhere[models.Chapter](s.db, ctx, "ordinal",
		"file_id = ? AND status = ?", fileID, string(models.ChapterReady))
}

// UpsertChapters atomically replaces the pending chapter set of a file.
// Ready and failed chapters are untouched; the new set is validated for
// ordering and non-overlap against the file duration.
func (s *GORMStore) UpsertChapters(ctx context.Context, fileID string, chapters []models.Chapter, duration float64) ([]*models.Chapter, error) {
	if err := models.ValidateChapterSet(chapters, duration); err != nil {
		return nil, err
	}

	var result []*models.Chapter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ? AND status = ?", fileID, string(models.ChapterPending)).
			Delete(&models.Chapter{}).Error; err != nil {
			return err
		}

		// Ordinals continue after existing ready chapters.
		var maxOrdinal int
		row := tx.Model(&models.Chapter{}).
			Where("file_id = ?", fileID).
			Select("COALESCE(MAX(ordinal), -1)").
			Row()
		if err := row.Scan(&maxOrdinal); err != nil {
			return err
		}

		for i := range chapters {
			c := chapters[i]
			c.ID = uuid.New().String()
			c.FileID = fileID
			c.Ordinal = maxOrdinal + 1 + i
			c.Status = string(models.ChapterPending)
			if err := tx.Create(&c).Error; err != nil {
				return err
			}
			result = append(result, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateChapter modifies a pending chapter's label and time bounds.
// Ready chapters are immutable without an explicit reset.
func (s *GORMStore) UpdateChapter(ctx context.Context, chapter *models.Chapter) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Chapter
		if err := tx.Where("id = ?", chapter.ID).First(&existing).Error; err != nil {
			return convertNotFoundError(err, models.ErrChapterNotFound)
		}
		if existing.IsReady() {
			return models.ErrChapterReadOnly
		}
		return tx.Model(&existing).
			Select("Label", "StartSeconds", "EndSeconds").
			Updates(chapter).Error
	})
}

// DeleteChapter removes a chapter. Deleting a ready chapter requires
// cascade=true (an explicit reset by the caller).
func (s *GORMStore) DeleteChapter(ctx context.Context, id string, cascade bool) (*models.Chapter, error) {
	var chapter models.Chapter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&chapter).Error; err != nil {
			return convertNotFoundError(err, models.ErrChapterNotFound)
		}
		if chapter.IsReady() && !cascade {
			return models.ErrChapterReadOnly
		}
		return tx.Delete(&chapter).Error
	})
	if err != nil {
		return nil, err
	}
	return &chapter, nil
}

// MarkChapterReady records a successful finalization: crypto metadata, blob
// location, sizes, and the ready status.
func (s *GORMStore) MarkChapterReady(ctx context.Context, chapter *models.Chapter) error {
	now := time.Now()
	chapter.FinalizedAt = &now
	result := s.db.WithContext(ctx).Model(&models.Chapter{}).
		Where("id = ?", chapter.ID).
		Updates(map[string]any{
			"status":          string(models.ChapterReady),
			"storage_backend": chapter.StorageBackend,
			"location":        chapter.Location,
			"plain_size":      chapter.PlainSize,
			"encrypted_size":  chapter.EncryptedSize,
			"scheme":          chapter.Scheme,
			"key_mode":        chapter.KeyMode,
			"wrapped_key":     chapter.WrappedKey,
			"nonce_prefix":    chapter.NoncePrefix,
			"error_code":      "",
			"finalized_at":    chapter.FinalizedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrChapterNotFound
	}
	return nil
}

// MarkChapterFailed records a finalization or streaming failure.
func (s *GORMStore) MarkChapterFailed(ctx context.Context, id, errorCode string) error {
	result := s.db.WithContext(ctx).Model(&models.Chapter{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": string(models.ChapterFailed), "error_code": errorCode})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrChapterNotFound
	}
	return nil
}

// ChapterStatusSummary counts a file's chapters by status.
type ChapterStatusSummary struct {
	Pending int `json:"pending"`
	Ready   int `json:"ready"`
	Failed  int `json:"failed"`
}

// SummarizeChapters returns the per-status chapter counts for a file.
func (s *GORMStore) SummarizeChapters(ctx context.Context, fileID string) (*ChapterStatusSummary, error) {
	type row struct {
		Status string
		N      int
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.Chapter{}).
		Select("status, COUNT(*) as n").
		Where("file_id = ?", fileID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	summary := &ChapterStatusSummary{}
	for _, r := range rows {
		switch models.ChapterStatus(r.Status) {
		case models.ChapterPending:
			summary.Pending = r.N
		case models.ChapterReady:
			summary.Ready = r.N
		case models.ChapterFailed:
			summary.Failed = r.N
		}
	}
	return summary, nil
}
