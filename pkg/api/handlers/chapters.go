package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/audiovault/audiovault/internal/logger"
	"github.com/audiovault/audiovault/pkg/api/middleware"
	"github.com/audiovault/audiovault/pkg/cryptor"
	"github.com/audiovault/audiovault/pkg/drm"
	"github.com/audiovault/audiovault/pkg/metrics"
	"github.com/audiovault/audiovault/pkg/models"
	"github.com/audiovault/audiovault/pkg/store"
)

// ChapterHandler handles chapter definition, finalization, and stream URL
// minting.
type ChapterHandler struct {
	store *store.GORMStore

	// finalizers by storage backend name. A finalize request may select
	// any configured backend; the default is used when none is named.
	finalizers     map[string]*cryptor.Finalizer
	defaultBackend string

	minter  *drm.Minter
	metrics *metrics.VaultMetrics
}

// NewChapterHandler creates a new ChapterHandler.
func NewChapterHandler(s *store.GORMStore, finalizers map[string]*cryptor.Finalizer, defaultBackend string, minter *drm.Minter, m *metrics.VaultMetrics) *ChapterHandler {
	return &ChapterHandler{
		store:          s,
		finalizers:     finalizers,
		defaultBackend: defaultBackend,
		minter:         minter,
		metrics:        m,
	}
}

// List handles GET /files/{id}/chapters.
func (h *ChapterHandler) List(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	if _, err := h.store.GetFile(r.Context(), fileID); err != nil {
		writeError(w, r, err)
		return
	}
	chapters, err := h.store.ListChapters(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chapters": chapters})
}

// Status handles GET /files/{id}/chapters/status.
func (h *ChapterHandler) Status(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	if _, err := h.store.GetFile(r.Context(), fileID); err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := h.store.SummarizeChapters(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary})
}

// ChapterInput is one chapter definition in an upsert request.
type ChapterInput struct {
	Label     string   `json:"label"`
	StartTime float64  `json:"startTime"`
	EndTime   *float64 `json:"endTime"`
}

// UpsertRequest is the request body for POST /files/{id}/chapters.
type UpsertRequest struct {
	Chapters []ChapterInput `json:"chapters"`
}

// Upsert handles POST /files/{id}/chapters. Replaces the pending chapter
// set atomically; ready chapters are untouched.
func (h *ChapterHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	file, err := h.store.GetFile(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req UpsertRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.Chapters) == 0 {
		badRequest(w, "at least one chapter is required")
		return
	}

	chapters := make([]models.Chapter, len(req.Chapters))
	for i, in := range req.Chapters {
		chapters[i] = models.Chapter{
			Label:        in.Label,
			StartSeconds: in.StartTime,
			EndSeconds:   in.EndTime,
		}
	}

	saved, err := h.store.UpsertChapters(r.Context(), fileID, chapters, file.Duration)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chapters": saved})
}

// Update handles PUT /files/{id}/chapters/{cid}.
func (h *ChapterHandler) Update(w http.ResponseWriter, r *http.Request) {
	chapter, err := h.store.GetChapter(r.Context(), chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if chapter.FileID != chi.URLParam(r, "id") {
		notFound(w, "chapter not found")
		return
	}

	var in ChapterInput
	if !decodeJSONBody(w, r, &in) {
		return
	}
	if in.Label != "" {
		chapter.Label = in.Label
	}
	chapter.StartSeconds = in.StartTime
	chapter.EndSeconds = in.EndTime

	if err := h.store.UpdateChapter(r.Context(), chapter); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chapter": chapter})
}

// Delete handles DELETE /files/{id}/chapters/{cid}. Ready chapters require
// ?cascade=true, which also removes the ciphertext blob.
func (h *ChapterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	cascade := r.URL.Query().Get("cascade") == "true"

	chapter, err := h.store.DeleteChapter(r.Context(), chi.URLParam(r, "cid"), cascade)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if chapter.Location != "" {
		if f, ok := h.finalizers[chapter.StorageBackend]; ok {
			if err := f.DeleteBlob(r.Context(), chapter.Location); err != nil {
				logger.WarnCtx(r.Context(), "removing chapter blob",
					logger.KeyChapterID, chapter.ID, logger.KeyError, err)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// FinalizeRequest is the request body for POST /files/{id}/chapters/finalize.
type FinalizeRequest struct {
	StorageType string `json:"storageType"`
}

// Finalize handles POST /files/{id}/chapters/finalize. Every pending
// chapter is cut, encrypted, and marked ready; per-chapter failures are
// reported without aborting the batch.
func (h *ChapterHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	file, err := h.store.GetFile(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req FinalizeRequest
	if r.ContentLength > 0 && !decodeJSONBody(w, r, &req) {
		return
	}
	backend := req.StorageType
	if backend == "" {
		backend = h.defaultBackend
	}
	finalizer, ok := h.finalizers[backend]
	if !ok {
		badRequest(w, "unknown storage type "+backend)
		return
	}

	result, err := finalizer.FinalizeFile(r.Context(), file, file.StoragePath)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, models.CodeFinalizeFailed, "chapter finalization failed")
		logger.ErrorCtx(r.Context(), "chapter finalization failed",
			logger.KeyFileID, fileID, logger.KeyError, err)
		return
	}
	h.metrics.RecordChapterFinalized("ready", result.Ready)
	h.metrics.RecordChapterFinalized("failed", result.Failed)

	summary, err := h.store.SummarizeChapters(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"finalizedChapters":  result.Ready,
		"errors":             result.Failed,
		"summary": map[string]any{
			"pending":   summary.Pending,
			"ready":     summary.Ready,
			"failed":    summary.Failed,
			"finalized": result.Ready,
		},
	})
}

// StreamURLRequest is the request body for POST /files/{id}/chapters/{cid}/stream-url.
type StreamURLRequest struct {
	ExpiresIn int64 `json:"expiresIn"` // milliseconds, advisory
}

// StreamURL handles POST /files/{id}/chapters/{cid}/stream-url. Mints a
// chapter token and returns the URL that streams it.
func (h *ChapterHandler) StreamURL(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	var req StreamURLRequest
	if r.ContentLength > 0 && !decodeJSONBody(w, r, &req) {
		return
	}

	identity := drm.Identity{UserID: claims.UserID, SessionID: claims.SessionID, DeviceID: claims.DeviceID}
	token, expiresAt, err := h.minter.IssueChapterToken(r.Context(), identity, chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.metrics.RecordTokenMinted(string(drm.TokenChapter))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"streamUrl": "/drm/chapter/" + token,
		"expiresAt": expiresAt,
		"expiresIn": time.Until(expiresAt).Milliseconds(),
	})
}

// Sample handles POST /files/{id}/chapters/sample. Replaces the pending set
// with a canonical intro/body/outro split, for demos and testing.
func (h *ChapterHandler) Sample(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	file, err := h.store.GetFile(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if file.Duration <= 0 {
		badRequest(w, "file duration is unknown")
		return
	}

	chapters := sampleChapters(file.Duration)
	saved, err := h.store.UpsertChapters(r.Context(), fileID, chapters, file.Duration)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chapters": saved})
}

// sampleChapters builds the canonical demo set: 30s intro, body, and outro
// for long files, equal thirds for short ones.
func sampleChapters(duration float64) []models.Chapter {
	if duration > 120 {
		body := 30.0
		outro := duration - 30
		return []models.Chapter{
			{Label: "Intro", StartSeconds: 0, EndSeconds: &body},
			{Label: "Body", StartSeconds: body, EndSeconds: &outro},
			{Label: "Outro", StartSeconds: outro},
		}
	}
	third := duration / 3
	twoThirds := 2 * third
	return []models.Chapter{
		{Label: "Part 1", StartSeconds: 0, EndSeconds: &third},
		{Label: "Part 2", StartSeconds: third, EndSeconds: &twoThirds},
		{Label: "Part 3", StartSeconds: twoThirds},
	}
}
