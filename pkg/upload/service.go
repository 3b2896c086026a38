// Package upload implements chunked, resumable uploads. Chunks land in a
// per-session workspace directory; the directory listing, not the database,
// is the source of truth for which chunks arrived, so a crashed server never
// disagrees with the bytes on disk.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/audiovault/audiovault/internal/audio"
	"github.com/audiovault/audiovault/internal/logger"
	"github.com/audiovault/audiovault/pkg/models"
)

// Store is the persistence surface the upload service needs.
type Store interface {
	GetUploadSession(ctx context.Context, id string) (*models.UploadSession, error)
	CreateUploadSession(ctx context.Context, session *models.UploadSession) (string, error)
	TransitionUpload(ctx context.Context, id string, from, to models.UploadState) error
	CompleteUpload(ctx context.Context, id, fileID string) error
	ListReclaimableUploads(ctx context.Context, now time.Time) ([]*models.UploadSession, error)
	MarkUploadExpired(ctx context.Context, id string) error
	CreateFile(ctx context.Context, file *models.AudioFile) (string, error)
}

// Config parameterizes the upload service.
type Config struct {
	// WorkspaceRoot holds per-session reassembly directories.
	WorkspaceRoot string

	// MediaRoot is where finalized originals land.
	MediaRoot string

	// MaxChunkBytes caps one chunk; MaxFileBytes caps a whole file.
	MaxChunkBytes int64
	MaxFileBytes  int64

	// TTL is how long an open session survives without finalize.
	TTL time.Duration
}

// Service coordinates upload sessions.
type Service struct {
	store Store
	cfg   Config

	// finalizeMu serializes finalization per upload id. The database CAS
	// is the real gate; the mutex just avoids doing disk work twice.
	mu         sync.Mutex
	finalizing map[string]*sync.Mutex

	now func() time.Time
}

// New creates the upload service and its directories.
func New(store Store, cfg Config) (*Service, error) {
	for _, dir := range []string{cfg.WorkspaceRoot, cfg.MediaRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating upload directory %s: %w", dir, err)
		}
	}
	return &Service{
		store:      store,
		cfg:        cfg,
		finalizing: make(map[string]*sync.Mutex),
		now:        time.Now,
	}, nil
}

// InitRequest describes a new upload.
type InitRequest struct {
	FileName    string
	FileSize    int64
	TotalChunks int
	SHA256      string
	MimeType    string
	Title       string
}

// Init opens an upload session and its workspace.
func (s *Service) Init(ctx context.Context, uploaderID string, req InitRequest) (*models.UploadSession, error) {
	if req.FileName == "" || req.FileSize <= 0 || req.TotalChunks <= 0 {
		return nil, fmt.Errorf("file name, size, and chunk count are required")
	}
	if len(req.SHA256) != 64 {
		return nil, fmt.Errorf("expected sha256 must be 64 hex characters")
	}
	if s.cfg.MaxFileBytes > 0 && req.FileSize > s.cfg.MaxFileBytes {
		return nil, fmt.Errorf("file size %d exceeds limit %d", req.FileSize, s.cfg.MaxFileBytes)
	}
	// Every chunk but the last must fit the declared layout.
	minChunks := (req.FileSize + s.cfg.MaxChunkBytes - 1) / s.cfg.MaxChunkBytes
	if int64(req.TotalChunks) < minChunks {
		return nil, fmt.Errorf("%d chunks cannot carry %d bytes with chunk limit %d",
			req.TotalChunks, req.FileSize, s.cfg.MaxChunkBytes)
	}

	id := uuid.New().String()
	workspace := filepath.Join(s.cfg.WorkspaceRoot, id)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload workspace: %w", err)
	}

	session := &models.UploadSession{
		ID:             id,
		UploaderID:     uploaderID,
		FileName:       filepath.Base(req.FileName),
		FileSize:       req.FileSize,
		TotalChunks:    req.TotalChunks,
		ExpectedSHA256: req.SHA256,
		MimeType:       req.MimeType,
		Title:          req.Title,
		Workspace:      workspace,
		State:          string(models.UploadOpen),
		ExpiresAt:      s.now().Add(s.cfg.TTL),
	}
	if _, err := s.store.CreateUploadSession(ctx, session); err != nil {
		os.RemoveAll(workspace)
		return nil, err
	}
	return session, nil
}

func chunkName(index int) string {
	return fmt.Sprintf("chunk_%08d", index)
}

// getOpen loads a session and enforces that it is open and unexpired.
// Lapsed sessions are transitioned to expired on sight.
func (s *Service) getOpen(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	session, err := s.store.GetUploadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	switch models.UploadState(session.State) {
	case models.UploadOpen:
	case models.UploadFinalizing:
		return nil, models.ErrUploadBusy
	case models.UploadExpired:
		return nil, models.ErrUploadExpired
	default:
		return nil, models.ErrUploadState
	}
	if session.IsExpired(s.now()) {
		if err := s.store.MarkUploadExpired(ctx, uploadID); err != nil {
			logger.WarnCtx(ctx, "marking upload expired", logger.KeyUploadID, uploadID, logger.KeyError, err)
		}
		return nil, models.ErrUploadExpired
	}
	return session, nil
}

// PutChunk stores one chunk. Re-sending a chunk with identical bytes is an
// idempotent no-op; re-sending with different bytes is a conflict.
func (s *Service) PutChunk(ctx context.Context, uploadID string, index int, data []byte) (*models.UploadSession, error) {
	session, err := s.getOpen(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= session.TotalChunks {
		return nil, fmt.Errorf("chunk index %d out of range [0,%d)", index, session.TotalChunks)
	}
	if int64(len(data)) > s.cfg.MaxChunkBytes {
		return nil, fmt.Errorf("chunk of %d bytes exceeds limit %d", len(data), s.cfg.MaxChunkBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty chunk")
	}

	path := filepath.Join(session.Workspace, chunkName(index))
	if existing, err := os.ReadFile(path); err == nil {
		if sha256.Sum256(existing) == sha256.Sum256(data) {
			return session, nil
		}
		return nil, models.ErrChunkConflict
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Atomic write: a crash never leaves a torn chunk that would later
	// poison the digest check.
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("writing chunk: %w", err)
	}
	return session, nil
}

// Status reports which chunk indices have arrived, read from disk.
type Status struct {
	Session  *models.UploadSession `json:"session"`
	Received []int                 `json:"received"`
	Missing  []int                 `json:"missing"`
}

// Status returns the session and its received/missing chunk indices.
func (s *Service) Status(ctx context.Context, uploadID string) (*Status, error) {
	session, err := s.store.GetUploadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	received, err := s.receivedChunks(session)
	if err != nil {
		return nil, err
	}
	have := make(map[int]bool, len(received))
	for _, i := range received {
		have[i] = true
	}
	missing := make([]int, 0)
	for i := 0; i < session.TotalChunks; i++ {
		if !have[i] {
			missing = append(missing, i)
		}
	}
	return &Status{Session: session, Received: received, Missing: missing}, nil
}

func (s *Service) receivedChunks(session *models.UploadSession) ([]int, error) {
	entries, err := os.ReadDir(session.Workspace)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var received []int
	for _, e := range entries {
		var idx int
		if _, err := fmt.Sscanf(e.Name(), "chunk_%08d", &idx); err == nil {
			received = append(received, idx)
		}
	}
	sort.Ints(received)
	return received, nil
}

func (s *Service) finalizeLock(uploadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.finalizing[uploadID]
	if !ok {
		l = &sync.Mutex{}
		s.finalizing[uploadID] = l
	}
	return l
}

// Finalize assembles the chunks, verifies the digest, and registers the
// audio file. Exactly one finalize can win; concurrent calls observe
// ErrUploadBusy. A digest mismatch aborts the session permanently.
func (s *Service) Finalize(ctx context.Context, uploadID, title, visibility string) (*models.AudioFile, error) {
	lock := s.finalizeLock(uploadID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.getOpen(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	status, err := s.Status(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if len(status.Missing) > 0 {
		return nil, fmt.Errorf("upload incomplete: %d of %d chunks missing",
			len(status.Missing), session.TotalChunks)
	}

	if err := s.store.TransitionUpload(ctx, uploadID, models.UploadOpen, models.UploadFinalizing); err != nil {
		return nil, err
	}

	file, err := s.assemble(ctx, session, title, visibility)
	if err != nil {
		// Integrity failures are unrecoverable; IO failures return the
		// session to open so the client can retry finalize.
		if err == models.ErrIntegrityFailed {
			if terr := s.store.TransitionUpload(ctx, uploadID, models.UploadFinalizing, models.UploadAborted); terr != nil {
				logger.ErrorCtx(ctx, "aborting failed upload", logger.KeyUploadID, uploadID, logger.KeyError, terr)
			}
			s.cleanup(session)
		} else {
			if terr := s.store.TransitionUpload(ctx, uploadID, models.UploadFinalizing, models.UploadOpen); terr != nil {
				logger.ErrorCtx(ctx, "reopening failed upload", logger.KeyUploadID, uploadID, logger.KeyError, terr)
			}
		}
		return nil, err
	}

	if err := s.store.CompleteUpload(ctx, uploadID, file.ID); err != nil {
		return nil, err
	}
	s.cleanup(session)
	logger.InfoCtx(ctx, "upload finalized",
		logger.KeyUploadID, uploadID, logger.KeyFileID, file.ID, logger.KeyBytes, file.Size)
	return file, nil
}

// assemble streams the chunks in order into the media root, hashing as it
// goes, and creates the file row.
func (s *Service) assemble(ctx context.Context, session *models.UploadSession, title, visibility string) (*models.AudioFile, error) {
	fileID := uuid.New().String()
	finalPath := filepath.Join(s.cfg.MediaRoot, fileID+filepath.Ext(session.FileName))

	pending, err := renameio.NewPendingFile(finalPath, renameio.WithPermissions(0o600))
	if err != nil {
		return nil, fmt.Errorf("creating media file: %w", err)
	}
	defer pending.Cleanup()

	hasher := sha256.New()
	out := io.MultiWriter(pending, hasher)
	var total int64
	for i := 0; i < session.TotalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := os.Open(filepath.Join(session.Workspace, chunkName(i)))
		if err != nil {
			return nil, fmt.Errorf("opening chunk %d: %w", i, err)
		}
		n, err := io.Copy(out, chunk)
		chunk.Close()
		if err != nil {
			return nil, fmt.Errorf("assembling chunk %d: %w", i, err)
		}
		total += n
	}

	if total != session.FileSize {
		return nil, models.ErrIntegrityFailed
	}
	if hex.EncodeToString(hasher.Sum(nil)) != session.ExpectedSHA256 {
		return nil, models.ErrIntegrityFailed
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("committing media file: %w", err)
	}

	// Duration probe failures do not fail the upload; chapters need the
	// duration but it can be probed again at chapter time.
	var duration float64
	if f, err := os.Open(finalPath); err == nil {
		if info, perr := audio.Probe(f, total); perr == nil {
			duration = info.Duration
		} else {
			logger.WarnCtx(ctx, "audio probe failed", logger.KeyFileID, fileID, logger.KeyError, perr)
		}
		f.Close()
	}

	if title == "" {
		title = session.Title
	}
	if title == "" {
		title = session.FileName
	}
	if visibility == "" {
		visibility = string(models.VisibilityPrivate)
	}
	file := &models.AudioFile{
		ID:          fileID,
		Title:       title,
		UploaderID:  session.UploaderID,
		SHA256:      session.ExpectedSHA256,
		Size:        total,
		MimeType:    session.MimeType,
		Duration:    duration,
		Visibility:  visibility,
		StoragePath: finalPath,
	}
	if _, err := s.store.CreateFile(ctx, file); err != nil {
		os.Remove(finalPath)
		return nil, err
	}
	return file, nil
}

// Abort cancels an open session and reclaims its workspace.
func (s *Service) Abort(ctx context.Context, uploadID string) error {
	session, err := s.store.GetUploadSession(ctx, uploadID)
	if err != nil {
		return err
	}
	if err := s.store.TransitionUpload(ctx, uploadID, models.UploadState(session.State), models.UploadAborted); err != nil {
		return err
	}
	s.cleanup(session)
	return nil
}

func (s *Service) cleanup(session *models.UploadSession) {
	if session.Workspace == "" {
		return
	}
	if err := os.RemoveAll(session.Workspace); err != nil {
		logger.Warn("removing upload workspace", logger.KeyUploadID, session.ID, logger.KeyError, err)
	}
}

// Sweep reclaims workspaces of aborted and expired sessions.
func (s *Service) Sweep(ctx context.Context) error {
	sessions, err := s.store.ListReclaimableUploads(ctx, s.now())
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if models.UploadState(session.State) == models.UploadOpen {
			if err := s.store.MarkUploadExpired(ctx, session.ID); err != nil {
				logger.WarnCtx(ctx, "marking upload expired", logger.KeyUploadID, session.ID, logger.KeyError, err)
				continue
			}
		}
		s.cleanup(session)
	}
	return nil
}

// RunSweeper runs Sweep on a fixed interval until the context ends.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				logger.WarnCtx(ctx, "upload sweep failed", logger.KeyError, err)
			}
		}
	}
}
