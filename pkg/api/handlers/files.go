package handlers

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/audiovault/audiovault/internal/audio"
	"github.com/audiovault/audiovault/internal/blob"
	"github.com/audiovault/audiovault/internal/logger"
	"github.com/audiovault/audiovault/pkg/api/middleware"
	"github.com/audiovault/audiovault/pkg/models"
	"github.com/audiovault/audiovault/pkg/store"
)

// FileHandler handles audio file metadata and direct (small) uploads.
type FileHandler struct {
	store        *store.GORMStore
	blobs        blob.Store
	mediaRoot    string
	coversInline bool
	maxFileBytes int64
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(s *store.GORMStore, blobs blob.Store, mediaRoot string, coversInline bool, maxFileBytes int64) *FileHandler {
	return &FileHandler{
		store:        s,
		blobs:        blobs,
		mediaRoot:    mediaRoot,
		coversInline: coversInline,
		maxFileBytes: maxFileBytes,
	}
}

// List handles GET /files. Admins see everything; users see public files,
// their own uploads, and granted files.
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	var (
		files []*models.AudioFile
		err   error
	)
	if claims.IsAdmin() {
		files, err = h.store.ListFiles(r.Context())
	} else {
		files, err = h.store.ListVisibleFiles(r.Context(), claims.UserID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "files": files})
}

// getAccessibleFile loads a file and enforces read authorization for the
// calling user.
func (h *FileHandler) getAccessibleFile(w http.ResponseWriter, r *http.Request, fileID string) (*models.AudioFile, bool) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return nil, false
	}

	file, err := h.store.GetFile(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	user, err := h.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	allowed, err := h.store.CanAccessFile(r.Context(), user, file)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if !allowed {
		writeError(w, r, models.ErrAccessDenied)
		return nil, false
	}
	return file, true
}

// Get handles GET /files/{id}.
func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	file, ok := h.getAccessibleFile(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	chapters, err := h.store.ListChapters(r.Context(), file.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "file": file, "chapters": chapters})
}

// Cover handles GET /files/{id}/cover.
func (h *FileHandler) Cover(w http.ResponseWriter, r *http.Request) {
	file, ok := h.getAccessibleFile(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if !file.HasCover() {
		notFound(w, "file has no cover")
		return
	}

	mime := file.CoverMime
	if mime == "" {
		mime = "image/jpeg"
	}
	w.Header().Set("Content-Type", mime)

	if file.CoverInline != "" {
		data, err := base64.StdEncoding.DecodeString(file.CoverInline)
		if err != nil {
			writeError(w, r, err)
			return
		}
		_, _ = w.Write(data)
		return
	}
	http.ServeFile(w, r, file.CoverPath)
}

// Upload handles POST /files: small direct multipart uploads that skip the
// chunked pipeline. Fields: "audio" (required), "title", "visibility",
// "cover" (optional).
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		badRequest(w, "invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	part, header, err := r.FormFile("audio")
	if err != nil {
		badRequest(w, "audio file part is required")
		return
	}
	defer part.Close()

	fileID := uuid.New().String()
	finalPath := filepath.Join(h.mediaRoot, fileID+filepath.Ext(header.Filename))
	pending, err := renameio.NewPendingFile(finalPath, renameio.WithPermissions(0o600))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer pending.Cleanup()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(pending, hasher), part)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		writeError(w, r, err)
		return
	}

	var duration float64
	if f, err := os.Open(finalPath); err == nil {
		if info, perr := audio.Probe(f, size); perr == nil {
			duration = info.Duration
		}
		f.Close()
	}

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}
	visibility := r.FormValue("visibility")
	if visibility == "" {
		visibility = string(models.VisibilityPrivate)
	}

	file := &models.AudioFile{
		ID:          fileID,
		Title:       title,
		UploaderID:  claims.UserID,
		SHA256:      hex.EncodeToString(hasher.Sum(nil)),
		Size:        size,
		MimeType:    header.Header.Get("Content-Type"),
		Duration:    duration,
		Visibility:  visibility,
		StoragePath: finalPath,
	}
	if err := h.attachCover(r, file); err != nil {
		os.Remove(finalPath)
		writeError(w, r, err)
		return
	}
	if _, err := h.store.CreateFile(r.Context(), file); err != nil {
		os.Remove(finalPath)
		writeError(w, r, err)
		return
	}

	logger.InfoCtx(r.Context(), "file uploaded",
		logger.KeyFileID, file.ID, logger.KeyUserID, claims.UserID, logger.KeyBytes, size)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "file": file})
}

func (h *FileHandler) attachCover(r *http.Request, file *models.AudioFile) error {
	return attachCoverFromForm(r, file, h.mediaRoot, h.coversInline)
}

// attachCoverFromForm stores an optional multipart "cover" part on the file
// row, either inline base64 or as a sibling file depending on configuration.
func attachCoverFromForm(r *http.Request, file *models.AudioFile, mediaRoot string, inline bool) error {
	part, header, err := r.FormFile("cover")
	if err != nil {
		if err == http.ErrMissingFile {
			return nil
		}
		return err
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		return err
	}
	file.CoverMime = header.Header.Get("Content-Type")

	if inline {
		file.CoverInline = base64.StdEncoding.EncodeToString(data)
		return nil
	}

	coverDir := filepath.Join(mediaRoot, "covers")
	if err := os.MkdirAll(coverDir, 0o755); err != nil {
		return err
	}
	coverPath := filepath.Join(coverDir, file.ID+filepath.Ext(header.Filename))
	if err := renameio.WriteFile(coverPath, data, 0o600); err != nil {
		return err
	}
	file.CoverPath = coverPath
	return nil
}

// AdminUpdate handles PUT /admin/files/{id}: metadata edits plus an
// optional multipart cover replacement.
func (h *FileHandler) AdminUpdate(w http.ResponseWriter, r *http.Request) {
	file, err := h.store.GetFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		badRequest(w, "invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	if title := r.FormValue("title"); title != "" {
		file.Title = title
	}
	if visibility := r.FormValue("visibility"); visibility != "" {
		if !models.Visibility(visibility).IsValid() {
			badRequest(w, "invalid visibility")
			return
		}
		file.Visibility = visibility
	}
	if err := h.attachCover(r, file); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.store.UpdateFile(r.Context(), file); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "file": file})
}

// AdminDelete handles DELETE /admin/files/{id}. Removes the row, the
// original bytes, and the cover.
func (h *FileHandler) AdminDelete(w http.ResponseWriter, r *http.Request) {
	file, err := h.store.DeleteFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	for _, path := range []string{file.StoragePath, file.CoverPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.WarnCtx(r.Context(), "removing file artifact",
				logger.KeyFileID, file.ID, logger.KeyError, err)
		}
	}
	if h.blobs != nil {
		if err := h.blobs.DeleteByPrefix(r.Context(), file.ID+"/"); err != nil {
			logger.WarnCtx(r.Context(), "removing chapter blobs",
				logger.KeyFileID, file.ID, logger.KeyError, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
