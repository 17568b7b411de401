package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"

	"lapse/internal/server/api"
	"lapse/internal/server/config"
	"lapse/internal/server/database"
	"lapse/internal/server/retention"
	"lapse/internal/server/service"
	"lapse/internal/server/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, _, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// Structured logging
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	cfg.WatchLogLevel(level)

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"config_file", cfg.ConfigFile(),
		"metadata_driver", cfg.MetadataDriver,
		"storage_path", cfg.StoragePath,
		"max_file_size", humanize.IBytes(uint64(cfg.MaxFileSize)),
		"retention_grace", cfg.RetentionGrace,
	)

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server exited cleanly")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metadata store
	repo, err := database.Open(ctx, cfg.DatabaseOptions())
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer repo.Close()

	// Blob store
	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	slog.Info("file storage initialized", "path", cfg.StoragePath)

	policy, err := retention.NewPolicy(cfg.RetentionPeriods, cfg.RetentionGrace)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	svc := service.NewFileService(repo, store, policy, clock, cfg.MaxFileSize)

	// Sweeper
	cleanup, err := storage.NewCleanupService(repo, store, policy, clock, storage.CleanupConfig{
		BlobSchedule:     cfg.BlobSchedule,
		MetadataSchedule: cfg.MetadataSchedule,
	})
	if err != nil {
		return err
	}
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	cleanup.Start(cleanupCtx)

	// HTTP
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, clock)
	go limiter.Run(ctx)
	e := api.SetupRouter(api.NewHandler(svc, repo), limiter)

	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			cleanupCancel()
			cleanup.Wait()
			return fmt.Errorf("server stopped: %w", err)
		}
	}

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	cleanupCancel()
	cleanup.Wait()
	return nil
}
