package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/audiovault/audiovault/internal/blob"
	"github.com/audiovault/audiovault/pkg/store"
)

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Are the database and blob backends reachable?
type HealthHandler struct {
	store *store.GORMStore
	blobs map[string]blob.Store
}

// NewHealthHandler creates a new health handler. blobs maps backend names
// to the stores that chapter ciphertext is written to.
func NewHealthHandler(s *store.GORMStore, blobs map[string]blob.Store) *HealthHandler {
	return &HealthHandler{store: s, blobs: blobs}
}

// Liveness handles GET /health. Always succeeds while the HTTP server is
// responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"service": "audiovault",
	})
}

// BackendHealth is the health status of one dependency.
type BackendHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

func checkBackend(ctx context.Context, name string, probe func(context.Context) error) BackendHealth {
	start := time.Now()
	err := probe(ctx)
	health := BackendHealth{
		Name:    name,
		Status:  "healthy",
		Latency: time.Since(start).String(),
	}
	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	}
	return health
}

// Readiness handles GET /health/ready. Returns 503 if the database or any
// blob backend fails its probe.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	backends := []BackendHealth{
		checkBackend(ctx, "database", h.store.Healthcheck),
	}
	for name, blobs := range h.blobs {
		backends = append(backends, checkBackend(ctx, "blob:"+name, blobs.HealthCheck))
	}

	status := http.StatusOK
	healthy := true
	for _, b := range backends {
		if b.Status != "healthy" {
			status = http.StatusServiceUnavailable
			healthy = false
			break
		}
	}
	writeJSON(w, status, map[string]any{
		"success":  healthy,
		"backends": backends,
	})
}
