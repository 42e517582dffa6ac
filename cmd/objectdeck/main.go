package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/objectdeck/objectdeck/internal/cleanup"
	"github.com/objectdeck/objectdeck/internal/config"
	"github.com/objectdeck/objectdeck/internal/engine"
	s3engine "github.com/objectdeck/objectdeck/internal/engine/s3"
	"github.com/objectdeck/objectdeck/internal/history"
	"github.com/objectdeck/objectdeck/internal/history/sqlite"
	"github.com/objectdeck/objectdeck/internal/http/rest"
	"github.com/objectdeck/objectdeck/internal/logctx"
	"github.com/objectdeck/objectdeck/internal/notifier"
	"github.com/objectdeck/objectdeck/internal/queue"
	"github.com/objectdeck/objectdeck/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("objectdeck transfer daemon starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && err != context.Canceled {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:      cfg.TelemetryEnabled,
		ServiceName:  "objectdeck",
		OTLPEndpoint: cfg.TelemetryEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	hist := sqlite.NewInstrumentedHistoryRepository(database, tel)

	// =========================================================================
	// Start Storage Engine
	client, err := s3engine.NewClient(ctx, s3engine.Config{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
	})
	if err != nil {
		return fmt.Errorf("failed to build s3 client: %w", err)
	}

	// =========================================================================
	// Start Queue Managers
	auditor := queue.NewAuditor(hist, cfg.AccountID)

	opts := []queue.ManagerOption{
		queue.WithAuditor(auditor),
		queue.WithTelemetry(tel),
	}

	if cfg.WebhookURL != "" {
		opts = append(opts, queue.WithNotifier(&notifier.WebhookNotifier{WebhookURL: cfg.WebhookURL}))
	}

	// Each manager gets its own engine instance so the two event streams
	// stay separate.
	uploads := queue.NewManager(engine.DirectionUpload, cfg.MaxParallelUploads,
		s3engine.NewEngine(client), opts...)
	downloads := queue.NewManager(engine.DirectionDownload, cfg.MaxParallelDownloads,
		s3engine.NewEngine(client), opts...)

	uploads.Run(ctx)
	downloads.Run(ctx)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, tel, uploads, downloads, hist)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for transfers...",
		"bucket", cfg.S3.Bucket,
		"max_parallel_uploads", cfg.MaxParallelUploads,
		"max_parallel_downloads", cfg.MaxParallelDownloads,
		"download_dir", cfg.DownloadDir,
	)

	// =========================================================================
	// Start Cleanup
	if cfg.KeepDownloadedFor > 0 {
		setupCleanup(ctx, hist, cfg)
	}

	// =========================================================================
	// Wait for shutdown
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return ctx.Err()
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	tel *telemetry.Telemetry,
	uploads, downloads *queue.Manager,
	hist history.Log,
) *http.Server {
	tHandler := rest.NewTransfersHandler(cfg.Web.Username, cfg.Web.Password, cfg.S3.Bucket, cfg.DownloadDir, uploads, downloads, hist)

	r := chi.NewRouter()
	r.Use(telemetry.HTTPLogging)
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", tHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "objectdeck_api"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, hist history.Log, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				records, err := hist.Recent(ctx, 1000)
				if err != nil {
					logger.Error("failed to get history records for cleanup", "err", err)

					continue
				}

				if err := cleanup.DeleteExpiredDownloads(ctx, records, cfg.KeepDownloadedFor); err != nil {
					logger.Error("failed to delete expired downloads", "err", err)
				}
			}
		}
	}()
}
