package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/audiovault/audiovault/pkg/models"
)

func (s *GORMStore) GetUploadSession(ctx context.Context, id string) (*models.UploadSession, error) {
	return getByField[models.UploadSession](s.db, ctx, "id", id, models.ErrUploadNotFound)
}

func (s *GORMStore) CreateUploadSession(ctx context.Context, session *models.UploadSession) (string, error) {
	return createWithID(s.db, ctx, session, func(u *models.UploadSession, id string) { u.ID = id }, session.ID, models.ErrUploadNotFound)
}

// TransitionUpload moves an upload session from one state to another,
// enforcing the monotone state machine. The compare-and-swap on the current
// state makes concurrent transitions race-safe: the loser sees ErrUploadState
// (or ErrUploadBusy when contending for finalizing).
func (s *GORMStore) TransitionUpload(ctx context.Context, id string, from, to models.UploadState) error {
	if !from.CanTransition(to) {
		return models.ErrUploadState
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.UploadSession
		if err := tx.Where("id = ?", id).First(&session).Error; err != nil {
			return convertNotFoundError(err, models.ErrUploadNotFound)
		}

		result := tx.Model(&models.UploadSession{}).
			Where("id = ? AND state = ?", id, string(from)).
			Update("state", string(to))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			if session.State == string(models.UploadFinalizing) {
				return models.ErrUploadBusy
			}
			return models.ErrUploadState
		}
		return nil
	})
}

// CompleteUpload records the produced file id together with the final
// state transition.
func (s *GORMStore) CompleteUpload(ctx context.Context, id, fileID string) error {
	result := s.db.WithContext(ctx).Model(&models.UploadSession{}).
		Where("id = ? AND state = ?", id, string(models.UploadFinalizing)).
		Updates(map[string]any{"state": string(models.UploadCompleted), "file_id": fileID})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUploadState
	}
	return nil
}

// ListReclaimableUploads returns sessions whose workspaces the sweeper may
// delete: aborted ones and open ones past their TTL.
func (s *GORMStore) ListReclaimableUploads(ctx context.Context, now time.Time) ([]*models.UploadSession, error) {
	return listWhere[models.UploadSession](s.db, ctx, "",
		"state = ? OR (state = ? AND expires_at < ?)",
		string(models.UploadAborted), string(models.UploadOpen), now)
}

// MarkUploadExpired transitions an open session past its TTL to expired.
func (s *GORMStore) MarkUploadExpired(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.UploadSession{}).
		Where("id = ? AND state = ?", id, string(models.UploadOpen)).
		Update("state", string(models.UploadExpired)).Error
}
