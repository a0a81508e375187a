package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/kacper-wojtaszczyk/oar-distribution/internal/api"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/config"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/distribution"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/exitcode"
)

func main() {
	// Initialize structured logger (JSON to stdout)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	configPath := pflag.String("config", "", "YAML config file (environment variables take precedence)")
	pflag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load env vars", "error", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitcode.ConfigError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := distribution.Setup(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize service", "error", err)
		os.Exit(exitcode.StorageError)
	}

	// Setup HTTP routes
	mux := http.NewServeMux()
	api.NewHandler(svc, api.Options{
		Stream:   cfg.ArchiveDelivery == config.DeliveryStream,
		SpoolDir: cfg.ArchiveSpoolDir,
	}).RegisterRoutes(mux)

	// Archives can take minutes to stream, so there is no write timeout.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.WithRequestLogging(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("starting server",
			"port", cfg.Port,
			"delivery", cfg.ArchiveDelivery,
			"policy", cfg.ArchivePolicy.String(),
			"fetch_concurrency", cfg.FetchConcurrency,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	stop()

	slog.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
