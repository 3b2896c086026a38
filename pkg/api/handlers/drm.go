package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/audiovault/audiovault/internal/logger"
	"github.com/audiovault/audiovault/pkg/api/middleware"
	"github.com/audiovault/audiovault/pkg/drm"
	"github.com/audiovault/audiovault/pkg/metrics"
	"github.com/audiovault/audiovault/pkg/models"
	"github.com/audiovault/audiovault/pkg/store"
	"github.com/audiovault/audiovault/pkg/streamer"
)

// DRMHandler mints stream tokens and reports DRM status.
type DRMHandler struct {
	store   *store.GORMStore
	minter  *drm.Minter
	streams *streamer.Service
	metrics *metrics.VaultMetrics
}

// NewDRMHandler creates a new DRMHandler.
func NewDRMHandler(s *store.GORMStore, minter *drm.Minter, streams *streamer.Service, m *metrics.VaultMetrics) *DRMHandler {
	return &DRMHandler{store: s, minter: minter, streams: streams, metrics: m}
}

func (h *DRMHandler) identity(w http.ResponseWriter, r *http.Request) (drm.Identity, bool) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return drm.Identity{}, false
	}
	return drm.Identity{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		DeviceID:  claims.DeviceID,
	}, true
}

// Status handles GET /drm/status/{fileId}.
func (h *DRMHandler) Status(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identity(w, r); !ok {
		return
	}
	fileID := chi.URLParam(r, "fileId")

	file, err := h.store.GetFile(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := h.store.SummarizeChapters(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	chaptered := summary.Ready > 0 && summary.Pending == 0 && summary.Failed == 0
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"duration":  file.Duration,
		"size":      file.Size,
		"chaptered": chaptered,
		"chapters": map[string]any{
			"pending": summary.Pending,
			"ready":   summary.Ready,
			"failed":  summary.Failed,
		},
	})
}

// Session handles POST /drm/session/{fileId}. Mints a whole-file stream
// token bound to the caller's login session and device.
func (h *DRMHandler) Session(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	fileID := chi.URLParam(r, "fileId")

	file, err := h.store.GetFile(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, expiresAt, err := h.minter.IssueStreamSession(r.Context(), identity, fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.metrics.RecordTokenMinted(string(drm.TokenStreamSession))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"sessionToken": token,
		"expiresIn":    time.Until(expiresAt).Milliseconds(),
		"duration":     file.Duration,
	})
}

// SignedURLRequest is the request body for POST /drm/signed-url/{fileId}.
// Times are in seconds, matching chapter boundaries; an endTime of -1 means
// "to the end of the file".
type SignedURLRequest struct {
	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime"`
	ExpiresIn int64 `json:"expiresIn"` // advisory
}

// SignedURL handles POST /drm/signed-url/{fileId}. Mints a token for a
// bounded playback window.
func (h *DRMHandler) SignedURL(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req SignedURLRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	startMs := req.StartTime * 1000
	endMs := req.EndTime * 1000
	if req.EndTime == -1 {
		endMs = -1
	}
	token, expiresAt, err := h.minter.IssueSignedURL(r.Context(), identity, chi.URLParam(r, "fileId"), startMs, endMs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.metrics.RecordTokenMinted(string(drm.TokenSignedURL))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"signedUrl": "/drm/url/" + token,
		"expiresAt": expiresAt,
	})
}

// resolveToken validates a token of the expected type and returns its
// claims. Validation re-checks the backing login session and device on
// every request, so revoked sessions stop streaming immediately.
func (h *DRMHandler) resolveToken(w http.ResponseWriter, r *http.Request, expected drm.TokenType) (*drm.Claims, bool) {
	claims, err := h.minter.Validate(r.Context(), chi.URLParam(r, "token"), expected)
	if err != nil {
		h.metrics.RecordStream("rejected", 0)
		writeError(w, r, err)
		return nil, false
	}
	return claims, true
}

// Stream handles GET /drm/stream/{token}: whole-file streaming with Range
// support.
func (h *DRMHandler) Stream(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.resolveToken(w, r, drm.TokenStreamSession)
	if !ok {
		return
	}

	src, err := h.streams.OpenFile(r.Context(), claims.FileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.serveSource(w, r, src, streamer.ByteRange{Start: 0, Length: src.Size})
}

// StreamChapter handles GET /drm/chapter/{token}: one decrypted chapter.
func (h *DRMHandler) StreamChapter(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.resolveToken(w, r, drm.TokenChapter)
	if !ok {
		return
	}

	src, err := h.streams.OpenChapter(r.Context(), claims.ChapterID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.serveSource(w, r, src, streamer.ByteRange{Start: 0, Length: src.Size})
}

// StreamWindow handles GET /drm/url/{token}: the playback window of a
// signed URL. Range requests are interpreted relative to the window.
func (h *DRMHandler) StreamWindow(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.resolveToken(w, r, drm.TokenSignedURL)
	if !ok {
		return
	}

	src, err := h.streams.OpenFile(r.Context(), claims.FileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	file, err := h.store.GetFile(r.Context(), claims.FileID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	window, err := src.TimeWindow(file.Duration, claims.StartMs, claims.EndMs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.serveSource(w, r, src, window)
}

// serveSource streams the given window of a source, honoring a Range header
// relative to the window. Errors after the first byte terminate the
// connection; the status line has already been sent.
func (h *DRMHandler) serveSource(w http.ResponseWriter, r *http.Request, src *streamer.Source, window streamer.ByteRange) {
	reqRange, err := streamer.ParseRange(r.Header.Get("Range"), window.Length)
	if err != nil {
		h.metrics.RecordStream("bad_range", 0)
		w.Header().Set("Content-Range", streamer.UnsatisfiableContentRange(window.Length))
		writeError(w, r, models.ErrInvalidRange)
		return
	}

	mime := src.MimeType
	if mime == "" {
		mime = "audio/mpeg"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "no-store, private")
	w.Header().Set("Content-Disposition", "inline")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; media-src 'self'")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Length", formatInt(reqRange.Length))

	status := http.StatusOK
	if !reqRange.IsFull(window.Length) {
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", streamer.ContentRange(reqRange, window.Length))
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	n, err := src.WriteRange(r.Context(), w, window.Start+reqRange.Start, reqRange.Length)
	if err != nil {
		// Headers are gone; log, flag the chapter and drop the connection.
		h.metrics.RecordStream("aborted", n)
		logger.WarnCtx(r.Context(), "stream aborted mid-transfer",
			logger.KeyFileID, src.FileID, logger.KeyBytes, n, logger.KeyError, err)

		var cerr *streamer.ChapterError
		if errors.As(err, &cerr) && errors.Is(err, models.ErrDecryptFailed) {
			ctx := context.WithoutCancel(r.Context())
			if merr := h.store.MarkChapterFailed(ctx, cerr.ChapterID, models.CodeDecryptFailed); merr != nil {
				logger.ErrorCtx(r.Context(), "marking chapter failed",
					logger.KeyChapterID, cerr.ChapterID, logger.KeyError, merr)
			}
		}
		return
	}
	h.metrics.RecordStream("success", n)
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
