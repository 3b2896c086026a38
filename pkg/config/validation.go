package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"

	"github.com/go-playground/validator/v10"
)

// RootKeySize is the required decoded length of the DRM root key.
const RootKeySize = 32

var validate = validator.New()

// Validate checks the configuration for consistency. Struct tags cover the
// simple constraints; cross-field rules live here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return err
	}

	if _, _, err := net.SplitHostPort(cfg.Server.BindAddress); err != nil {
		return fmt.Errorf("invalid bind address %q: %w", cfg.Server.BindAddress, err)
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry is enabled but no endpoint is configured")
	}

	if cfg.DRM.RootKey == "" {
		return fmt.Errorf("ROOT_KEY is not set; the server cannot encrypt or decrypt chapters without it")
	}
	if _, err := DecodeKey(cfg.DRM.RootKey); err != nil {
		return fmt.Errorf("invalid ROOT_KEY: %w", err)
	}

	if cfg.Upload.MaxChunkBytes > cfg.Upload.MaxFileBytes {
		return fmt.Errorf("upload max_chunk_bytes (%d) exceeds max_file_bytes (%d)",
			cfg.Upload.MaxChunkBytes, cfg.Upload.MaxFileBytes)
	}

	return nil
}

// DecodeKey decodes a base64 (standard or URL-safe) or hex encoded 32-byte
// key.
func DecodeKey(encoded string) ([]byte, error) {
	decoders := []func(string) ([]byte, error){
		hex.DecodeString,
		base64.StdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
	}
	var lastLen int
	for _, decode := range decoders {
		key, err := decode(encoded)
		if err != nil {
			continue
		}
		// A string can decode under several encodings; accept whichever
		// yields the right key size.
		if len(key) == RootKeySize {
			return key, nil
		}
		lastLen = len(key)
	}
	if lastLen > 0 {
		return nil, fmt.Errorf("key must be %d bytes, got %d", RootKeySize, lastLen)
	}
	return nil, fmt.Errorf("key is neither valid base64 nor hex")
}
