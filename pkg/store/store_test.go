package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiovault/audiovault/pkg/models"
)

func newTestStore(t *testing.T) *GORMStore {
	t.Helper()
	s, err := New(&Config{URL: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testPolicy() LoginPolicy {
	return LoginPolicy{
		MaxFailedLogins: 5,
		LockoutBackoff:  15 * time.Minute,
		SessionTTL:      24 * time.Hour,
	}
}

func createTestUser(t *testing.T, s *GORMStore, email string) *models.User {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	user := &models.User{Email: email, PasswordHash: hash, Name: "Test User", Role: string(models.RoleUser)}
	_, err = s.CreateUser(context.Background(), user)
	require.NoError(t, err)
	return user
}

func deviceInfo(fp string) DeviceInfo {
	return DeviceInfo{Fingerprint: fp, Name: "Laptop", Type: "desktop", Platform: "linux"}
}

func TestPerformLoginHappyPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestUser(t, s, "alice@example.com")

	result, err := s.PerformLogin(ctx, "alice@example.com", "correct-horse", deviceInfo("fp-1"), false, testPolicy())
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.True(t, result.Device.Active)
	assert.Contains(t, result.Warnings, "new device registered")

	live, err := s.GetLiveSession(ctx, result.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Device.ID, live.DeviceID)
}

func TestPerformLoginBadPassword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "alice@example.com")

	_, err := s.PerformLogin(ctx, "alice@example.com", "wrong", deviceInfo("fp-1"), false, testPolicy())
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = s.PerformLogin(ctx, "missing@example.com", "correct-horse", deviceInfo("fp-1"), false, testPolicy())
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	reloaded, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.FailedLogins)
}

func TestPerformLoginBackoffLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestUser(t, s, "alice@example.com")

	policy := testPolicy()
	policy.MaxFailedLogins = 3
	for i := 0; i < 3; i++ {
		_, err := s.PerformLogin(ctx, "alice@example.com", "wrong", deviceInfo("fp-1"), false, policy)
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	}

	// Correct password is refused while the backoff lock holds.
	_, err := s.PerformLogin(ctx, "alice@example.com", "correct-horse", deviceInfo("fp-1"), false, policy)
	assert.ErrorIs(t, err, models.ErrUserLocked)
}

func TestPerformLoginSecondDeviceRequiresApproval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestUser(t, s, "alice@example.com")

	_, err := s.PerformLogin(ctx, "alice@example.com", "correct-horse", deviceInfo("fp-1"), false, testPolicy())
	require.NoError(t, err)

	_, err = s.PerformLogin(ctx, "alice@example.com", "correct-horse", deviceInfo("fp-2"), false, testPolicy())
	assert.ErrorIs(t, err, models.ErrDeviceApprovalRequired)
}

func TestPerformLoginApprovedSecondDeviceLocksAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "alice@example.com")

	first, err := s.PerformLogin(ctx, "alice@example.com", "correct-horse", deviceInfo("fp-1"), false, testPolicy())
	require.NoError(t, err)

	_, err = s.PerformLogin(ctx, "alice@example.com", "correct-horse", deviceInfo("fp-2"), true, testPolicy())
	assert.ErrorIs(t, err, models.ErrDevicePolicyViolation)

	reloaded, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Locked)

	// Existing sessions are revoked by the violation.
	_, err = s.GetLiveSession(ctx, first.Session.ID)
	assert.ErrorIs(t, err, models.ErrSessionRevoked)

	// Admin unlock restores login on the original device.
	require.NoError(t, s.UnlockUser(ctx, user.ID))
	_, err = s.PerformLogin(ctx, "alice@example.com", "correct-horse", deviceInfo("fp-1"), false, testPolicy())
	require.NoError(t, err)
}

func TestPerformLoginDeviceSwitchRevokesPeerSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "alice@example.com")

	first, err := s.PerformLogin(ctx, "alice@example.com", "correct-horse", deviceInfo("fp-1"), false, testPolicy())
	require.NoError(t, err)

	// Deactivate the first device as the user would before switching.
	require.NoError(t, s.DeactivateDevice(ctx, user.ID, first.Device.ID, "switching devices"))

	second, err := s.PerformLogin(ctx, "alice@example.com", "correct-horse", deviceInfo("fp-2"), false, testPolicy())
	require.NoError(t, err)

	_, err = s.GetLiveSession(ctx, first.Session.ID)
	assert.ErrorIs(t, err, models.ErrSessionRevoked)

	active, err := s.ListActiveDevices(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.Device.ID, active[0].ID)
}

func TestPerformLoginMultiDeviceAllowed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "alice@example.com")
	require.NoError(t, s.DB().Model(&models.User{}).Where("id = ?", user.ID).
		Update("multi_device_allowed", true).Error)

	first, err := s.PerformLogin(ctx, "alice@example.com", "correct-horse", deviceInfo("fp-1"), false, testPolicy())
	require.NoError(t, err)

	_, err = s.PerformLogin(ctx, "alice@example.com", "correct-horse", deviceInfo("fp-2"), false, testPolicy())
	require.NoError(t, err)

	// The first session survives a second-device login.
	_, err = s.GetLiveSession(ctx, first.Session.ID)
	require.NoError(t, err)

	active, err := s.ListActiveDevices(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestDuplicateEmailRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestUser(t, s, "alice@example.com")

	hash, err := HashPassword("pw")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, &models.User{Email: "Alice@Example.com", PasswordHash: hash, Name: "Dup"})
	assert.ErrorIs(t, err, models.ErrEmailTaken)
}

func TestDeleteUserWithLiveSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "alice@example.com")

	result, err := s.PerformLogin(ctx, "alice@example.com", "correct-horse", deviceInfo("fp-1"), false, testPolicy())
	require.NoError(t, err)

	err = s.DeleteUser(ctx, user.ID)
	assert.ErrorIs(t, err, models.ErrUserHasSessions)

	require.NoError(t, s.RevokeSession(ctx, result.Session.ID, "logout"))
	require.NoError(t, s.DeleteUser(ctx, user.ID))
}

func TestFileVisibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s, "owner@example.com")
	viewer := createTestUser(t, s, "viewer@example.com")

	public := &models.AudioFile{Title: "Public", UploaderID: owner.ID, Visibility: string(models.VisibilityPublic), SHA256: "a", Size: 1, MimeType: "audio/mpeg", StoragePath: "/tmp/a"}
	private := &models.AudioFile{Title: "Private", UploaderID: owner.ID, Visibility: string(models.VisibilityPrivate), SHA256: "b", Size: 1, MimeType: "audio/mpeg", StoragePath: "/tmp/b"}
	granted := &models.AudioFile{Title: "Granted", UploaderID: owner.ID, Visibility: string(models.VisibilityPrivate), SHA256: "c", Size: 1, MimeType: "audio/mpeg", StoragePath: "/tmp/c"}
	for _, f := range []*models.AudioFile{public, private, granted} {
		_, err := s.CreateFile(ctx, f)
		require.NoError(t, err)
	}
	_, err := s.UpsertGrant(ctx, &models.FileAccess{UserID: viewer.ID, FileID: granted.ID, CanView: true})
	require.NoError(t, err)

	visible, err := s.ListVisibleFiles(ctx, viewer.ID)
	require.NoError(t, err)
	titles := make([]string, 0, len(visible))
	for _, f := range visible {
		titles = append(titles, f.Title)
	}
	assert.ElementsMatch(t, []string{"Public", "Granted"}, titles)

	ok, err := s.CanAccessFile(ctx, viewer, private)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiredGrantDenied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s, "owner@example.com")
	viewer := createTestUser(t, s, "viewer@example.com")

	file := &models.AudioFile{Title: "F", UploaderID: owner.ID, Visibility: string(models.VisibilityPrivate), SHA256: "a", Size: 1, MimeType: "audio/mpeg", StoragePath: "/tmp/a"}
	_, err := s.CreateFile(ctx, file)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	_, err = s.UpsertGrant(ctx, &models.FileAccess{UserID: viewer.ID, FileID: file.ID, CanView: true, ExpiresAt: &past})
	require.NoError(t, err)

	_, err = s.CanAccessFile(ctx, viewer, file)
	assert.ErrorIs(t, err, models.ErrAccessExpired)
}

func createTestFile(t *testing.T, s *GORMStore, ownerID string, duration float64) *models.AudioFile {
	t.Helper()
	file := &models.AudioFile{Title: "Book", UploaderID: ownerID, Visibility: string(models.VisibilityPrivate), SHA256: "x", Size: 1000, MimeType: "audio/mpeg", Duration: duration, StoragePath: "/tmp/x"}
	_, err := s.CreateFile(context.Background(), file)
	require.NoError(t, err)
	return file
}

func TestUpsertChaptersValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s, "owner@example.com")
	file := createTestFile(t, s, owner.ID, 600)

	end1 := 300.0
	_, err := s.UpsertChapters(ctx, file.ID, []models.Chapter{
		{Label: "One", StartSeconds: 0, EndSeconds: &end1},
		{Label: "Two", StartSeconds: 200},
	}, file.Duration)
	assert.ErrorIs(t, err, models.ErrChapterOverlaps)

	_, err = s.UpsertChapters(ctx, file.ID, []models.Chapter{
		{Label: "One", StartSeconds: 700},
	}, file.Duration)
	assert.ErrorIs(t, err, models.ErrChapterOutOfRange)

	chapters, err := s.UpsertChapters(ctx, file.ID, []models.Chapter{
		{Label: "One", StartSeconds: 0, EndSeconds: &end1},
		{Label: "Two", StartSeconds: 300},
	}, file.Duration)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, string(models.ChapterPending), chapters[0].Status)
}

func TestUpsertChaptersReplacesPendingOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s, "owner@example.com")
	file := createTestFile(t, s, owner.ID, 600)

	end := 300.0
	first, err := s.UpsertChapters(ctx, file.ID, []models.Chapter{
		{Label: "Old", StartSeconds: 0, EndSeconds: &end},
	}, file.Duration)
	require.NoError(t, err)

	ready := first[0]
	ready.StorageBackend = models.ChapterStorageFilesystem
	ready.Location = "/tmp/blob"
	ready.PlainSize = 500
	ready.EncryptedSize = 540
	ready.Scheme = 1
	ready.KeyMode = "hkdf"
	require.NoError(t, s.MarkChapterReady(ctx, ready))

	_, err = s.UpsertChapters(ctx, file.ID, []models.Chapter{
		{Label: "New", StartSeconds: 300},
	}, file.Duration)
	require.NoError(t, err)

	all, err := s.ListChapters(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Old", all[0].Label)
	assert.Equal(t, string(models.ChapterReady), all[0].Status)
	assert.Equal(t, "New", all[1].Label)
	assert.Greater(t, all[1].Ordinal, all[0].Ordinal)
}

func TestReadyChapterImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s, "owner@example.com")
	file := createTestFile(t, s, owner.ID, 600)

	chapters, err := s.UpsertChapters(ctx, file.ID, []models.Chapter{
		{Label: "One", StartSeconds: 0},
	}, file.Duration)
	require.NoError(t, err)
	ch := chapters[0]

	ch.StorageBackend = models.ChapterStorageFilesystem
	ch.Location = "/tmp/blob"
	ch.Scheme = 1
	ch.KeyMode = "hkdf"
	require.NoError(t, s.MarkChapterReady(ctx, ch))

	ch.Label = "Renamed"
	err = s.UpdateChapter(ctx, ch)
	assert.ErrorIs(t, err, models.ErrChapterReadOnly)

	_, err = s.DeleteChapter(ctx, ch.ID, false)
	assert.ErrorIs(t, err, models.ErrChapterReadOnly)

	deleted, err := s.DeleteChapter(ctx, ch.ID, true)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, deleted.ID)
}

func TestSummarizeChapters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s, "owner@example.com")
	file := createTestFile(t, s, owner.ID, 600)

	end1, end2 := 100.0, 200.0
	chapters, err := s.UpsertChapters(ctx, file.ID, []models.Chapter{
		{Label: "One", StartSeconds: 0, EndSeconds: &end1},
		{Label: "Two", StartSeconds: 100, EndSeconds: &end2},
		{Label: "Three", StartSeconds: 200},
	}, file.Duration)
	require.NoError(t, err)

	chapters[0].StorageBackend = models.ChapterStorageFilesystem
	chapters[0].Location = "/tmp/blob"
	chapters[0].Scheme = 1
	chapters[0].KeyMode = "hkdf"
	require.NoError(t, s.MarkChapterReady(ctx, chapters[0]))
	require.NoError(t, s.MarkChapterFailed(ctx, chapters[1].ID, "IO_FAILED"))

	summary, err := s.SummarizeChapters(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ready)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Pending)
}

func TestUploadStateMachine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s, "owner@example.com")

	session := &models.UploadSession{
		UploaderID:     owner.ID,
		FileName:       "book.mp3",
		FileSize:       1 << 20,
		TotalChunks:    16,
		ExpectedSHA256: "abc",
		Workspace:      t.TempDir(),
		State:          string(models.UploadOpen),
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	_, err := s.CreateUploadSession(ctx, session)
	require.NoError(t, err)

	require.NoError(t, s.TransitionUpload(ctx, session.ID, models.UploadOpen, models.UploadFinalizing))

	// A second finalize attempt loses the CAS and reports busy.
	err = s.TransitionUpload(ctx, session.ID, models.UploadOpen, models.UploadFinalizing)
	assert.ErrorIs(t, err, models.ErrUploadBusy)

	// Completed is terminal.
	require.NoError(t, s.CompleteUpload(ctx, session.ID, "file-1"))
	err = s.TransitionUpload(ctx, session.ID, models.UploadCompleted, models.UploadAborted)
	assert.ErrorIs(t, err, models.ErrUploadState)

	reloaded, err := s.GetUploadSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "file-1", reloaded.FileID)
	assert.Equal(t, string(models.UploadCompleted), reloaded.State)
}

func TestListReclaimableUploads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s, "owner@example.com")

	fresh := &models.UploadSession{UploaderID: owner.ID, FileName: "a.mp3", FileSize: 1, TotalChunks: 1, ExpectedSHA256: "a", Workspace: t.TempDir(), State: string(models.UploadOpen), ExpiresAt: time.Now().Add(time.Hour)}
	stale := &models.UploadSession{UploaderID: owner.ID, FileName: "b.mp3", FileSize: 1, TotalChunks: 1, ExpectedSHA256: "b", Workspace: t.TempDir(), State: string(models.UploadOpen), ExpiresAt: time.Now().Add(-time.Hour)}
	aborted := &models.UploadSession{UploaderID: owner.ID, FileName: "c.mp3", FileSize: 1, TotalChunks: 1, ExpectedSHA256: "c", Workspace: t.TempDir(), State: string(models.UploadAborted), ExpiresAt: time.Now().Add(time.Hour)}
	for _, u := range []*models.UploadSession{fresh, stale, aborted} {
		_, err := s.CreateUploadSession(ctx, u)
		require.NoError(t, err)
	}

	reclaimable, err := s.ListReclaimableUploads(ctx, time.Now())
	require.NoError(t, err)
	ids := make([]string, 0, len(reclaimable))
	for _, u := range reclaimable {
		ids = append(ids, u.ID)
	}
	assert.ElementsMatch(t, []string{stale.ID, aborted.ID}, ids)
}

func TestCheckpointScopedToUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s, "owner@example.com")
	other := createTestUser(t, s, "other@example.com")
	file := createTestFile(t, s, owner.ID, 600)

	cp := &models.Checkpoint{UserID: owner.ID, FileID: file.ID, Timestamp: 42.5, Label: "Where I stopped"}
	_, err := s.CreateCheckpoint(ctx, cp)
	require.NoError(t, err)

	err = s.DeleteCheckpoint(ctx, cp.ID, other.ID)
	assert.ErrorIs(t, err, models.ErrCheckpointNotFound)

	require.NoError(t, s.DeleteCheckpoint(ctx, cp.ID, owner.ID))
}
