package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/audiovault/audiovault/pkg/api/middleware"
	"github.com/audiovault/audiovault/pkg/metrics"
	"github.com/audiovault/audiovault/pkg/models"
	"github.com/audiovault/audiovault/pkg/store"
	"github.com/audiovault/audiovault/pkg/upload"
)

// Chunk transfer headers. The last three are advisory echoes of the init
// parameters; when present they must match the session, which catches a
// client that mixed up two concurrent uploads.
const (
	headerUploadID    = "X-Upload-Id"
	headerChunkIndex  = "X-Chunk-Index"
	headerTotalChunks = "X-Total-Chunks"
	headerFileName    = "X-File-Name"
	headerFileSize    = "X-File-Size"
)

// UploadHandler handles the chunked, resumable upload endpoints.
type UploadHandler struct {
	store        *store.GORMStore
	service      *upload.Service
	mediaRoot    string
	coversInline bool
	metrics      *metrics.VaultMetrics
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(s *store.GORMStore, service *upload.Service, mediaRoot string, coversInline bool, m *metrics.VaultMetrics) *UploadHandler {
	return &UploadHandler{
		store:        s,
		service:      service,
		mediaRoot:    mediaRoot,
		coversInline: coversInline,
		metrics:      m,
	}
}

// InitRequest is the request body for POST /audio/upload/init.
type InitRequest struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	TotalChunks int    `json:"totalChunks"`
	FileHash    string `json:"fileHash"`
	MimeType    string `json:"mimeType"`
	Title       string `json:"title"`
}

// Init handles POST /audio/upload/init.
func (h *UploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	var req InitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	session, err := h.service.Init(r.Context(), claims.UserID, upload.InitRequest{
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		TotalChunks: req.TotalChunks,
		SHA256:      req.FileHash,
		MimeType:    req.MimeType,
		Title:       req.Title,
	})
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"data": map[string]any{
			"uploadId":  session.ID,
			"expiresAt": session.ExpiresAt,
		},
	})
}

// ownedSession loads an upload session and checks that the caller owns it
// (or is an admin).
func (h *UploadHandler) ownedSession(w http.ResponseWriter, r *http.Request, uploadID string) (*models.UploadSession, bool) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return nil, false
	}
	session, err := h.store.GetUploadSession(r.Context(), uploadID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if session.UploaderID != claims.UserID && !claims.IsAdmin() {
		forbidden(w, "upload belongs to another user")
		return nil, false
	}
	return session, true
}

// Chunk handles POST /audio/upload/chunk. The chunk travels as the
// multipart field "chunk"; X-Upload-Id and X-Chunk-Index identify it.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	uploadID := r.Header.Get(headerUploadID)
	if uploadID == "" {
		badRequest(w, "X-Upload-Id header is required")
		return
	}
	index, err := strconv.Atoi(r.Header.Get(headerChunkIndex))
	if err != nil {
		badRequest(w, "X-Chunk-Index header is required")
		return
	}
	session, ok := h.ownedSession(w, r, uploadID)
	if !ok {
		return
	}
	if !chunkHeadersMatch(w, r, session) {
		return
	}

	part, _, err := r.FormFile("chunk")
	if err != nil {
		badRequest(w, "chunk part is required")
		return
	}
	defer part.Close()
	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := h.service.PutChunk(r.Context(), uploadID, index, data); err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.RecordChunk(int64(len(data)))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chunkIndex": index})
}

// chunkHeadersMatch cross-checks the advisory chunk headers against the
// session. A mismatch means the client is desynchronized; failing the chunk
// early is cheaper than failing the whole upload at finalize.
func chunkHeadersMatch(w http.ResponseWriter, r *http.Request, session *models.UploadSession) bool {
	if v := r.Header.Get(headerTotalChunks); v != "" {
		total, err := strconv.Atoi(v)
		if err != nil || total != session.TotalChunks {
			badRequest(w, "X-Total-Chunks does not match the upload session")
			return false
		}
	}
	if v := r.Header.Get(headerFileName); v != "" && v != session.FileName {
		badRequest(w, "X-File-Name does not match the upload session")
		return false
	}
	if v := r.Header.Get(headerFileSize); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil || size != session.FileSize {
			badRequest(w, "X-File-Size does not match the upload session")
			return false
		}
	}
	return true
}

// Status handles GET /audio/upload/status/{uploadId}.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")
	if _, ok := h.ownedSession(w, r, uploadID); !ok {
		return
	}

	status, err := h.service.Status(r.Context(), uploadID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"uploadedChunks": status.Received,
		"missingChunks":  status.Missing,
		"totalChunks":    status.Session.TotalChunks,
		"state":          status.Session.State,
	})
}

// Finalize handles POST /audio/upload/finalize/{uploadId}. The multipart
// form may carry "title", "visibility", and an optional "cover".
func (h *UploadHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")
	if _, ok := h.ownedSession(w, r, uploadID); !ok {
		return
	}

	var title, visibility string
	hasForm := false
	if err := r.ParseMultipartForm(32 << 20); err == nil {
		hasForm = true
		title = r.FormValue("title")
		visibility = r.FormValue("visibility")
	}

	file, err := h.service.Finalize(r.Context(), uploadID, title, visibility)
	if err != nil {
		switch err {
		case models.ErrIntegrityFailed:
			h.metrics.RecordUploadFinalized("integrity")
		default:
			h.metrics.RecordUploadFinalized("error")
		}
		writeError(w, r, err)
		return
	}

	if hasForm {
		if err := attachCoverFromForm(r, file, h.mediaRoot, h.coversInline); err == nil && file.HasCover() {
			if uerr := h.store.UpdateFile(r.Context(), file); uerr != nil {
				writeError(w, r, uerr)
				return
			}
		}
		_ = r.MultipartForm.RemoveAll()
	}

	h.metrics.RecordUploadFinalized("success")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "file": file})
}

// Cancel handles DELETE /audio/upload/cancel/{uploadId}.
func (h *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")
	if _, ok := h.ownedSession(w, r, uploadID); !ok {
		return
	}

	if err := h.service.Abort(r.Context(), uploadID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
