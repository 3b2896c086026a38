// Package api exposes the AudioVault REST interface: authentication,
// device management, chunked uploads, chapter administration, DRM token
// minting, and token-authenticated streaming.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/audiovault/audiovault/internal/logger"
)

// Server provides the HTTP server for the REST API.
//
// The server supports graceful shutdown with configurable timeout. The
// write timeout is left unset on purpose: streaming responses can outlive
// any reasonable fixed deadline, and cancellation is handled per-request
// through the context.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates a new API HTTP server.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests. Defaults are applied here so the server works correctly even
// when created directly in tests.
func NewServer(config Config, deps Deps) *Server {
	config.applyDefaults()

	server := &http.Server{
		Addr:              config.BindAddress,
		Handler:           NewRouter(config, deps),
		ReadHeaderTimeout: config.ReadTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}
}

// Start starts the API HTTP server and blocks until the context is
// cancelled or an error occurs. Cancellation triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "address", s.config.BindAddress)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// Don't use the cancelled ctx as it would cause immediate shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and safe to call concurrently with
// Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.KeyError, err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.BindAddress
}
