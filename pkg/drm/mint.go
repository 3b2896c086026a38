package drm

import (
	"context"
	"time"

	"github.com/audiovault/audiovault/pkg/models"
)

// Store is the persistence surface the minter needs for authorization
// checks. Every issuance re-validates the login session and file grant
// against the database, so a revoked session can never mint a fresh token.
type Store interface {
	GetLiveSession(ctx context.Context, id string) (*models.Session, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetFile(ctx context.Context, id string) (*models.AudioFile, error)
	GetChapter(ctx context.Context, id string) (*models.Chapter, error)
	CanAccessFile(ctx context.Context, user *models.User, file *models.AudioFile) (bool, error)
}

// Identity is the authenticated caller, as established by the bearer
// middleware.
type Identity struct {
	UserID    string
	SessionID string
	DeviceID  string
}

// Minter issues DRM tokens after re-checking every authorization input.
type Minter struct {
	signer *Signer
	store  Store
}

// NewMinter creates a Minter.
func NewMinter(signer *Signer, store Store) *Minter {
	return &Minter{signer: signer, store: store}
}

// Signer exposes the underlying signer for key rotation.
func (m *Minter) Signer() *Signer {
	return m.signer
}

// authorize re-checks that the caller's session is live, bound to the
// claimed device, and that the user may stream the file.
func (m *Minter) authorize(ctx context.Context, id Identity, fileID string) (*models.AudioFile, error) {
	session, err := m.store.GetLiveSession(ctx, id.SessionID)
	if err != nil {
		return nil, err
	}
	if session.DeviceID != id.DeviceID {
		return nil, models.ErrDeviceMismatch
	}

	user, err := m.store.GetUser(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	file, err := m.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	allowed, err := m.store.CanAccessFile(ctx, user, file)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, models.ErrAccessDenied
	}
	return file, nil
}

// IssueStreamSession mints a whole-file stream token.
func (m *Minter) IssueStreamSession(ctx context.Context, id Identity, fileID string) (string, time.Time, error) {
	if _, err := m.authorize(ctx, id, fileID); err != nil {
		return "", time.Time{}, err
	}
	token, exp := m.signer.Sign(Claims{
		Type:      TokenStreamSession,
		FileID:    fileID,
		SessionID: id.SessionID,
		DeviceID:  id.DeviceID,
	})
	return token, exp, nil
}

// IssueSignedURL mints a token for a playback window [startMs, endMs) of a
// file. An endMs of -1 means "to the end of the file"; otherwise the window
// must be ordered and inside the file duration.
func (m *Minter) IssueSignedURL(ctx context.Context, id Identity, fileID string, startMs, endMs int64) (string, time.Time, error) {
	file, err := m.authorize(ctx, id, fileID)
	if err != nil {
		return "", time.Time{}, err
	}

	durationMs := int64(file.Duration * 1000)
	if endMs == -1 {
		if durationMs <= 0 {
			return "", time.Time{}, models.ErrInvalidRange
		}
		endMs = durationMs
	}
	if startMs < 0 || endMs <= startMs || (durationMs > 0 && startMs >= durationMs) {
		return "", time.Time{}, models.ErrInvalidRange
	}
	if durationMs > 0 && endMs > durationMs {
		endMs = durationMs
	}

	token, exp := m.signer.Sign(Claims{
		Type:      TokenSignedURL,
		FileID:    fileID,
		StartMs:   startMs,
		EndMs:     endMs,
		SessionID: id.SessionID,
		DeviceID:  id.DeviceID,
	})
	return token, exp, nil
}

// IssueChapterToken mints a token for one ready chapter.
func (m *Minter) IssueChapterToken(ctx context.Context, id Identity, chapterID string) (string, time.Time, error) {
	chapter, err := m.store.GetChapter(ctx, chapterID)
	if err != nil {
		return "", time.Time{}, err
	}
	if !chapter.IsReady() {
		return "", time.Time{}, models.ErrChapterNotReady
	}
	if _, err := m.authorize(ctx, id, chapter.FileID); err != nil {
		return "", time.Time{}, err
	}

	token, exp := m.signer.Sign(Claims{
		Type:      TokenChapter,
		FileID:    chapter.FileID,
		ChapterID: chapterID,
		SessionID: id.SessionID,
		DeviceID:  id.DeviceID,
	})
	return token, exp, nil
}

// Validate verifies a token of the expected type and re-checks that its
// login session is still live and still bound to the same device. Tokens
// outlive neither logout nor a device switch.
func (m *Minter) Validate(ctx context.Context, token string, expected TokenType) (*Claims, error) {
	claims, err := m.signer.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != expected {
		return nil, models.ErrInvalidToken
	}

	session, err := m.store.GetLiveSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session.DeviceID != claims.DeviceID {
		return nil, models.ErrDeviceMismatch
	}
	return claims, nil
}
