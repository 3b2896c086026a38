package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiovault/audiovault/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
// Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	cfg.Database.ApplyDefaults()
	applyMetricsDefaults(&cfg.Metrics)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyUploadDefaults(&cfg.Upload)
	applyAuthDefaults(&cfg.Auth)
	applyDRMDefaults(&cfg.DRM)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "0.0.0.0:8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.LoginRateLimit == 0 {
		cfg.LoginRateLimit = 10
	}
}

// getDataDir returns the default data directory, preferring XDG_DATA_HOME.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "audiovault")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./audiovault-data"
	}
	return filepath.Join(home, ".local", "share", "audiovault")
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.MediaRoot == "" {
		cfg.MediaRoot = filepath.Join(getDataDir(), "media")
	}
	if cfg.Chapters.Backend == "" {
		cfg.Chapters.Backend = "filesystem"
	}
	if cfg.Chapters.Root == "" {
		cfg.Chapters.Root = filepath.Join(getDataDir(), "chapters")
	}
}

func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.Workspace == "" {
		cfg.Workspace = filepath.Join(getDataDir(), "uploads")
	}
	if cfg.MaxChunkBytes == 0 {
		cfg.MaxChunkBytes = 8 * bytesize.MiB
	}
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = 4 * bytesize.GiB
	}
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.MaxFailedLogins == 0 {
		cfg.MaxFailedLogins = 5
	}
	if cfg.LockoutBackoff == 0 {
		cfg.LockoutBackoff = 15 * time.Minute
	}
}

func applyDRMDefaults(cfg *DRMConfig) {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 30 * time.Minute
	}
	if cfg.MaxConcurrentFinalize == 0 {
		cfg.MaxConcurrentFinalize = 4
	}
}

// GetDefaultConfig returns a configuration with all defaults applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
