package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiovault/audiovault/internal/blob"
	"github.com/audiovault/audiovault/internal/logger"
	"github.com/audiovault/audiovault/internal/telemetry"
	"github.com/audiovault/audiovault/pkg/api"
	apiauth "github.com/audiovault/audiovault/pkg/api/auth"
	"github.com/audiovault/audiovault/pkg/config"
	"github.com/audiovault/audiovault/pkg/cryptor"
	"github.com/audiovault/audiovault/pkg/drm"
	"github.com/audiovault/audiovault/pkg/metrics"
	"github.com/audiovault/audiovault/pkg/models"
	"github.com/audiovault/audiovault/pkg/store"
	"github.com/audiovault/audiovault/pkg/streamer"
	"github.com/audiovault/audiovault/pkg/upload"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the AudioVault server",
	Long: `Start the AudioVault server with the specified configuration.

The ROOT_KEY environment variable must hold the 32-byte chapter encryption
master key (base64 or hex encoded). Without it the server refuses to start.

Examples:
  # Start with the default config location
  ROOT_KEY=$(openssl rand -hex 32) audiovault start

  # Start with a custom config file
  audiovault start --config /etc/audiovault/config.yaml

  # Override settings with environment variables
  BIND_ADDRESS=127.0.0.1:9000 AUDIOVAULT_LOGGING_LEVEL=DEBUG audiovault start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "audiovault",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "audiovault",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("AudioVault starting", "version", Version)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Metrics must be initialized before anything records to them
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}
	vaultMetrics := metrics.NewVaultMetrics()

	// Database
	db, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Bootstrap admin account (random password, printed once)
	adminEmail := cfg.Admin.Email
	if adminEmail == "" {
		adminEmail = "admin@localhost"
	}
	adminPassword, err := randomSecret(12)
	if err != nil {
		return err
	}
	adminID, err := db.EnsureAdminUser(ctx, adminEmail, adminPassword)
	if err != nil {
		return fmt.Errorf("failed to ensure admin user: %w", err)
	}
	if adminID != "" {
		logger.Info("Admin user created", "email", adminEmail)
		fmt.Printf("\n*** IMPORTANT: Admin user %s created with password: %s ***\n", adminEmail, adminPassword)
		fmt.Println("Please save this password. It will not be shown again.")
		fmt.Println()
	}

	// Chapter encryption
	rootKey, err := config.DecodeKey(cfg.DRM.RootKey)
	if err != nil {
		return fmt.Errorf("invalid ROOT_KEY: %w", err)
	}
	crypt, err := cryptor.New(rootKey)
	if err != nil {
		return err
	}

	// DRM token signer, rotatable via key file
	signingKey := crypt.TokenSigningKey()
	if cfg.DRM.TokenSigningKey != "" {
		signingKey, err = config.DecodeKey(cfg.DRM.TokenSigningKey)
		if err != nil {
			return fmt.Errorf("invalid TOKEN_SIGNING_KEY: %w", err)
		}
	}
	signer, err := drm.NewSigner(signingKey, cfg.DRM.TokenTTL)
	if err != nil {
		return err
	}
	if cfg.DRM.TokenSigningKeyFile != "" {
		if err := drm.WatchKeyFile(ctx, signer, cfg.DRM.TokenSigningKeyFile); err != nil {
			return fmt.Errorf("failed to watch signing key file: %w", err)
		}
		logger.Info("Signing key rotation enabled", "path", cfg.DRM.TokenSigningKeyFile)
	}
	minter := drm.NewMinter(signer, db)

	// Blob backends for chapter ciphertext
	blobs, err := openBlobStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, b := range blobs {
			_ = b.Close()
		}
	}()

	finalizers := make(map[string]*cryptor.Finalizer, len(blobs))
	for backend, b := range blobs {
		finalizers[backend] = cryptor.NewFinalizer(crypt, db, b, backend, cfg.DRM.MaxConcurrentFinalize)
	}

	// Streaming resolves each chapter's backend by name
	streams := streamer.NewMulti(db, crypt, func(backend string) (blob.Store, error) {
		if backend == "" {
			backend = cfg.Storage.Chapters.Backend
		}
		b, ok := blobs[backend]
		if !ok {
			return nil, fmt.Errorf("unknown chapter storage backend %q", backend)
		}
		return b, nil
	})

	// Chunked uploads with background workspace sweeping
	uploads, err := upload.New(db, upload.Config{
		WorkspaceRoot: cfg.Upload.Workspace,
		MediaRoot:     cfg.Storage.MediaRoot,
		MaxChunkBytes: int64(cfg.Upload.MaxChunkBytes),
		MaxFileBytes:  int64(cfg.Upload.MaxFileBytes),
		TTL:           cfg.Upload.TTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize upload service: %w", err)
	}
	go uploads.RunSweeper(ctx, cfg.Upload.SweepInterval)

	// Session bearer tokens
	jwtService, err := apiauth.NewJWTService(apiauth.JWTConfig{
		Secret:        cfg.Auth.JWTSecret,
		TokenDuration: cfg.Auth.SessionTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	apiServer := api.NewServer(api.Config{
		BindAddress:     cfg.Server.BindAddress,
		ReadTimeout:     cfg.Server.ReadTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		LoginRateLimit:  cfg.Server.LoginRateLimit,
	}, api.Deps{
		Store:  db,
		JWT:    jwtService,
		Policy: store.LoginPolicy{
			MaxFailedLogins: cfg.Auth.MaxFailedLogins,
			LockoutBackoff:  cfg.Auth.LockoutBackoff,
			SessionTTL:      cfg.Auth.SessionTTL,
		},
		Uploads:        uploads,
		Streams:        streams,
		Minter:         minter,
		Finalizers:     finalizers,
		DefaultBackend: cfg.Storage.Chapters.Backend,
		Blobs:          blobs,
		MediaRoot:      cfg.Storage.MediaRoot,
		CoversInline:   cfg.Storage.CoversInline,
		MaxFileBytes:   int64(cfg.Upload.MaxFileBytes),
		Metrics:        vaultMetrics,
	})

	// Dedicated metrics listener, separate from the public API
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", logger.KeyError, err)
			}
		}()
	}

	logger.Info("API server configured", "address", cfg.Server.BindAddress)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped")
	}

	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancelShutdown()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	return nil
}

// openBlobStores opens the filesystem and badger chapter backends, plus S3
// when a bucket is configured. Finalize requests choose among these by
// name.
func openBlobStores(ctx context.Context, cfg *config.Config) (map[string]blob.Store, error) {
	blobs := make(map[string]blob.Store)

	fs, err := blob.NewFilesystemStore(cfg.Storage.Chapters.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open filesystem blob store: %w", err)
	}
	blobs[models.ChapterStorageFilesystem] = fs

	badger, err := blob.NewBadgerStore(cfg.Storage.Chapters.Root + ".db")
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("failed to open badger blob store: %w", err)
	}
	blobs[models.ChapterStorageDatabase] = badger

	if cfg.Storage.Chapters.S3.Bucket != "" {
		s3, err := blob.NewS3StoreFromConfig(ctx, cfg.Storage.Chapters.S3)
		if err != nil {
			fs.Close()
			badger.Close()
			return nil, fmt.Errorf("failed to open s3 blob store: %w", err)
		}
		blobs[models.ChapterStorageS3] = s3
	}

	if _, ok := blobs[cfg.Storage.Chapters.Backend]; !ok {
		return nil, fmt.Errorf("default chapter backend %q is not configured", cfg.Storage.Chapters.Backend)
	}
	return blobs, nil
}
