// Package config loads, defaults, and validates the AudioVault server
// configuration from file, environment, and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/audiovault/audiovault/internal/blob"
	"github.com/audiovault/audiovault/internal/bytesize"
	"github.com/audiovault/audiovault/pkg/store"
)

// Config represents the AudioVault server configuration.
//
// Configuration sources (in order of precedence):
//  1. Well-known environment variables (ROOT_KEY, DB_URL, BIND_ADDRESS, ...)
//  2. Prefixed environment variables (AUDIOVAULT_*)
//  3. Configuration file (YAML)
//  4. Default values
//
// The DRM root key is deliberately never read from the configuration file:
// it only enters through the ROOT_KEY environment variable, so a leaked
// config file does not leak the key material.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the metadata database (SQLite or PostgreSQL).
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Server contains HTTP API server configuration.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage configures where originals, covers, and encrypted chapter
	// blobs live.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Upload configures the chunked upload pipeline.
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Auth configures sessions and login protection.
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// DRM configures token minting and chapter encryption.
	DRM DRMConfig `mapstructure:"drm" yaml:"drm"`

	// Admin contains initial admin user configuration for bootstrap.
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP server run.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint. Default: 9090.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ServerConfig contains HTTP API server configuration.
type ServerConfig struct {
	// BindAddress is the host:port the server listens on.
	// Overridable via the BIND_ADDRESS environment variable.
	BindAddress string `mapstructure:"bind_address" validate:"required" yaml:"bind_address"`

	// ReadTimeout bounds request header and body reads. Streaming
	// responses are not subject to WriteTimeout; keep it zero.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// IdleTimeout bounds keep-alive connections.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// LoginRateLimit is the per-IP login attempt budget per minute.
	LoginRateLimit int `mapstructure:"login_rate_limit" yaml:"login_rate_limit"`
}

// StorageConfig configures the media locations.
type StorageConfig struct {
	// MediaRoot is the directory holding original uploaded files and
	// covers.
	MediaRoot string `mapstructure:"media_root" validate:"required" yaml:"media_root"`

	// CoversInline stores cover images in the database instead of on
	// disk.
	CoversInline bool `mapstructure:"covers_inline" yaml:"covers_inline"`

	// Chapters configures the encrypted chapter blob store.
	// The root is overridable via CHAPTER_STORAGE_ROOT.
	Chapters blob.Config `mapstructure:"chapters" yaml:"chapters"`
}

// UploadConfig configures the chunked upload pipeline.
type UploadConfig struct {
	// Workspace is the directory for in-progress upload reassembly.
	Workspace string `mapstructure:"workspace" validate:"required" yaml:"workspace"`

	// MaxChunkBytes caps a single chunk. Supports human-readable sizes
	// like "8Mi". Overridable via MAX_CHUNK_BYTES.
	MaxChunkBytes bytesize.ByteSize `mapstructure:"max_chunk_bytes" yaml:"max_chunk_bytes"`

	// MaxFileBytes caps a whole upload.
	MaxFileBytes bytesize.ByteSize `mapstructure:"max_file_bytes" yaml:"max_file_bytes"`

	// TTL is how long an open upload session survives without finalize.
	// Overridable via UPLOAD_TTL_MS (milliseconds).
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`

	// SweepInterval is how often expired workspaces are reclaimed.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// AuthConfig configures sessions and login protection.
type AuthConfig struct {
	// JWTSecret signs session bearer tokens. Generated at init when
	// empty.
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`

	// SessionTTL is the lifetime of a login session.
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`

	// MaxFailedLogins is the failure count that triggers a backoff lock.
	MaxFailedLogins int `mapstructure:"max_failed_logins" yaml:"max_failed_logins"`

	// LockoutBackoff is how long a brute-force lock lasts.
	LockoutBackoff time.Duration `mapstructure:"lockout_backoff" yaml:"lockout_backoff"`
}

// DRMConfig configures chapter encryption and token minting.
type DRMConfig struct {
	// RootKey is the master key for chapter data keys, base64 or hex
	// encoded, 32 bytes decoded. Environment only (ROOT_KEY); never
	// serialized.
	RootKey string `mapstructure:"-" yaml:"-"`

	// TokenSigningKey signs DRM tokens. Overridable via
	// TOKEN_SIGNING_KEY; falls back to a key derived from the root key.
	TokenSigningKey string `mapstructure:"-" yaml:"-"`

	// TokenSigningKeyFile, when set, is watched for rotation: writing a
	// new key to the file swaps the active signing key without restart.
	TokenSigningKeyFile string `mapstructure:"token_signing_key_file" yaml:"token_signing_key_file,omitempty"`

	// TokenTTL is the lifetime of minted DRM tokens.
	// Overridable via TOKEN_TTL_MS (milliseconds).
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	// MaxConcurrentFinalize bounds parallel chapter encryption jobs.
	MaxConcurrentFinalize int `mapstructure:"max_concurrent_finalize" yaml:"max_concurrent_finalize"`
}

// AdminConfig contains initial admin user configuration for bootstrap.
type AdminConfig struct {
	// Email is the bootstrap admin's email address.
	Email string `mapstructure:"email" yaml:"email,omitempty"`

	// PasswordHash is the bcrypt hash of the admin password, generated
	// during 'audiovault init'.
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to config file (empty string uses the default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the config
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  audiovault init\n\n"+
				"Or specify a custom config file:\n"+
				"  audiovault <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  audiovault init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
// Secrets held in env-only fields are never written.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file carries the JWT secret and admin password hash.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variable support and config file search.
func setupViper(v *viper.Viper, configPath string) {
	// Example: AUDIOVAULT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("AUDIOVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides applies the well-known unprefixed environment variables.
// These are the operational contract of the server and take precedence over
// both the config file and AUDIOVAULT_* variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROOT_KEY"); v != "" {
		cfg.DRM.RootKey = v
	}
	if v := os.Getenv("TOKEN_SIGNING_KEY"); v != "" {
		cfg.DRM.TokenSigningKey = v
	}
	if v := os.Getenv("TOKEN_TTL_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			cfg.DRM.TokenTTL = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_CHUNK_BYTES"); v != "" {
		if size, err := bytesize.ParseByteSize(v); err == nil && size > 0 {
			cfg.Upload.MaxChunkBytes = size
		}
	}
	if v := os.Getenv("UPLOAD_TTL_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			cfg.Upload.TTL = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("CHAPTER_STORAGE_ROOT"); v != "" {
		cfg.Storage.Chapters.Root = v
	}
	if v := os.Getenv("DB_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Database.Type = "" // rederive from the URL
		cfg.Database.ApplyDefaults()
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.Server.BindAddress = v
	}
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so
// config files can use human-readable sizes like "8Mi" or "100MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// use human-readable durations like "30s" or "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path, preferring
// XDG_CONFIG_HOME.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "audiovault")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "audiovault")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
