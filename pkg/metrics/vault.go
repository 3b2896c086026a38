package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// VaultMetrics covers the audio pipeline: logins, uploads, chapter
// finalization, token minting, and streaming.
type VaultMetrics struct {
	logins            *prometheus.CounterVec
	uploadChunks      prometheus.Counter
	uploadBytes       prometheus.Counter
	uploadsFinalized  *prometheus.CounterVec
	chaptersFinalized *prometheus.CounterVec
	tokensMinted      *prometheus.CounterVec
	streamRequests    *prometheus.CounterVec
	streamedBytes     prometheus.Counter
}

// NewVaultMetrics creates the pipeline metric set.
//
// Returns nil if metrics are not enabled (InitRegistry not called); all
// record methods tolerate a nil receiver.
func NewVaultMetrics() *VaultMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &VaultMetrics{
		logins: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiovault_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		uploadChunks: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "audiovault_upload_chunks_total",
				Help: "Upload chunks accepted",
			},
		),
		uploadBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "audiovault_upload_bytes_total",
				Help: "Upload bytes accepted",
			},
		),
		uploadsFinalized: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiovault_uploads_finalized_total",
				Help: "Upload finalizations by outcome",
			},
			[]string{"outcome"},
		),
		chaptersFinalized: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiovault_chapters_finalized_total",
				Help: "Chapter encryptions by outcome",
			},
			[]string{"outcome"},
		),
		tokensMinted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiovault_tokens_minted_total",
				Help: "DRM tokens minted by type",
			},
			[]string{"type"},
		),
		streamRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiovault_stream_requests_total",
				Help: "Stream requests by outcome",
			},
			[]string{"outcome"},
		),
		streamedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "audiovault_streamed_bytes_total",
				Help: "Decrypted bytes served to clients",
			},
		),
	}
}

// RecordLogin records a login attempt outcome ("success", "invalid",
// "locked", "approval_required", "policy_violation").
func (m *VaultMetrics) RecordLogin(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

// RecordChunk records one accepted upload chunk.
func (m *VaultMetrics) RecordChunk(bytes int64) {
	if m != nil {
		m.uploadChunks.Inc()
		m.uploadBytes.Add(float64(bytes))
	}
}

// RecordUploadFinalized records a finalize outcome ("success", "integrity",
// "error").
func (m *VaultMetrics) RecordUploadFinalized(outcome string) {
	if m != nil {
		m.uploadsFinalized.WithLabelValues(outcome).Inc()
	}
}

// RecordChapterFinalized records chapter encryption outcomes.
func (m *VaultMetrics) RecordChapterFinalized(outcome string, count int) {
	if m != nil && count > 0 {
		m.chaptersFinalized.WithLabelValues(outcome).Add(float64(count))
	}
}

// RecordTokenMinted records a DRM token issuance by type.
func (m *VaultMetrics) RecordTokenMinted(tokenType string) {
	if m != nil {
		m.tokensMinted.WithLabelValues(tokenType).Inc()
	}
}

// RecordStream records one stream request outcome and the bytes served.
func (m *VaultMetrics) RecordStream(outcome string, bytes int64) {
	if m != nil {
		m.streamRequests.WithLabelValues(outcome).Inc()
		if bytes > 0 {
			m.streamedBytes.Add(float64(bytes))
		}
	}
}
