package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/audiovault/audiovault/internal/blob"
	"github.com/audiovault/audiovault/internal/logger"
	"github.com/audiovault/audiovault/pkg/api/auth"
	"github.com/audiovault/audiovault/pkg/api/handlers"
	"github.com/audiovault/audiovault/pkg/api/middleware"
	"github.com/audiovault/audiovault/pkg/cryptor"
	"github.com/audiovault/audiovault/pkg/drm"
	"github.com/audiovault/audiovault/pkg/metrics"
	"github.com/audiovault/audiovault/pkg/store"
	"github.com/audiovault/audiovault/pkg/streamer"
	"github.com/audiovault/audiovault/pkg/upload"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Store   *store.GORMStore
	JWT     *auth.JWTService
	Policy  store.LoginPolicy
	Uploads *upload.Service
	Streams *streamer.Service
	Minter  *drm.Minter

	// Finalizers by chapter storage backend name; DefaultBackend names the
	// one used when a finalize request does not choose.
	Finalizers     map[string]*cryptor.Finalizer
	DefaultBackend string

	// Blobs by backend name, for readiness probes and admin file deletion.
	Blobs map[string]blob.Store

	MediaRoot    string
	CoversInline bool
	MaxFileBytes int64

	Metrics *metrics.VaultMetrics
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Token-streaming routes (/drm/stream, /drm/chapter, /drm/url) are mounted
// outside the bearer-auth group: the DRM token in the path is the
// credential, and its validation re-checks the backing login session.
func NewRouter(cfg Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	authHandler := handlers.NewAuthHandler(deps.Store, deps.JWT, deps.Policy, deps.Metrics)
	deviceHandler := handlers.NewDeviceHandler(deps.Store)
	fileHandler := handlers.NewFileHandler(deps.Store, deps.Blobs[deps.DefaultBackend], deps.MediaRoot, deps.CoversInline, deps.MaxFileBytes)
	uploadHandler := handlers.NewUploadHandler(deps.Store, deps.Uploads, deps.MediaRoot, deps.CoversInline, deps.Metrics)
	chapterHandler := handlers.NewChapterHandler(deps.Store, deps.Finalizers, deps.DefaultBackend, deps.Minter, deps.Metrics)
	drmHandler := handlers.NewDRMHandler(deps.Store, deps.Minter, deps.Streams, deps.Metrics)
	checkpointHandler := handlers.NewCheckpointHandler(deps.Store)
	adminHandler := handlers.NewAdminHandler(deps.Store, deps.Minter.Signer())
	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Blobs)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Metrics endpoint - returns an empty body unless metrics are enabled
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Registration and login - unauthenticated, login rate-limited per IP
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(
			cfg.LoginRateLimit,
			cfg.LoginRateWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
	})

	// Token-authenticated streaming - the token in the URL is the credential
	r.Get("/drm/stream/{token}", drmHandler.Stream)
	r.Head("/drm/stream/{token}", drmHandler.Stream)
	r.Get("/drm/chapter/{token}", drmHandler.StreamChapter)
	r.Head("/drm/chapter/{token}", drmHandler.StreamChapter)
	r.Get("/drm/url/{token}", drmHandler.StreamWindow)
	r.Head("/drm/url/{token}", drmHandler.StreamWindow)

	// Bearer-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(deps.JWT, deps.Store))

		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/me", authHandler.Me)
		r.Put("/auth/updatedetails", authHandler.UpdateDetails)

		r.Get("/devices", deviceHandler.List)
		r.Delete("/devices/others", deviceHandler.DeactivateOthers)
		r.Delete("/devices/{deviceId}", deviceHandler.Deactivate)

		r.Post("/files", fileHandler.Upload)
		r.Get("/files", fileHandler.List)
		r.Get("/files/{id}", fileHandler.Get)
		r.Get("/files/{id}/cover", fileHandler.Cover)

		r.Post("/audio/upload/init", uploadHandler.Init)
		r.Post("/audio/upload/chunk", uploadHandler.Chunk)
		r.Get("/audio/upload/status/{uploadId}", uploadHandler.Status)
		r.Post("/audio/upload/finalize/{uploadId}", uploadHandler.Finalize)
		r.Delete("/audio/upload/cancel/{uploadId}", uploadHandler.Cancel)

		r.Get("/files/{id}/chapters", chapterHandler.List)
		r.Get("/files/{id}/chapters/status", chapterHandler.Status)
		r.Post("/files/{id}/chapters/{cid}/stream-url", chapterHandler.StreamURL)

		r.Get("/files/{id}/checkpoints", checkpointHandler.List)
		r.Post("/files/{id}/checkpoints", checkpointHandler.Create)
		r.Put("/checkpoints/{id}", checkpointHandler.Update)
		r.Delete("/checkpoints/{id}", checkpointHandler.Delete)

		r.Get("/drm/status/{fileId}", drmHandler.Status)
		r.Post("/drm/session/{fileId}", drmHandler.Session)
		r.Post("/drm/signed-url/{fileId}", drmHandler.SignedURL)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin())

			r.Post("/files/{id}/chapters", chapterHandler.Upsert)
			r.Put("/files/{id}/chapters/{cid}", chapterHandler.Update)
			r.Delete("/files/{id}/chapters/{cid}", chapterHandler.Delete)
			r.Post("/files/{id}/chapters/finalize", chapterHandler.Finalize)
			r.Post("/files/{id}/chapters/sample", chapterHandler.Sample)

			r.Delete("/admin/files/{id}", fileHandler.AdminDelete)
			r.Put("/admin/files/{id}", fileHandler.AdminUpdate)

			r.Post("/admin/users", adminHandler.CreateUser)
			r.Get("/admin/users", adminHandler.ListUsers)
			r.Get("/admin/users/{id}", adminHandler.GetUser)
			r.Delete("/admin/users/{id}", adminHandler.DeleteUser)
			r.Get("/admin/users/{id}/sessions", adminHandler.ListUserSessions)
			r.Delete("/admin/users/{id}/sessions/{sid}", adminHandler.RevokeUserSession)
			r.Patch("/admin/users/{id}/unlock", adminHandler.UnlockUser)

			r.Post("/admin/file-access", adminHandler.CreateGrant)
			r.Get("/admin/file-access/file/{id}", adminHandler.ListFileGrants)
			r.Put("/admin/file-access/{id}", adminHandler.UpdateGrant)
			r.Delete("/admin/file-access/{id}", adminHandler.DeleteGrant)

			r.Post("/admin/drm/rotate-key", adminHandler.RotateSigningKey)
		})
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			logger.KeyClientIP, r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			logger.KeyStatus, ww.Status(),
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyDuration, time.Since(start).String(),
		)
	})
}
