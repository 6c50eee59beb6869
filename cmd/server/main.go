package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courier/internal/server/api"
	"courier/internal/server/config"
	"courier/internal/server/database"
	"courier/internal/server/service"
	"courier/internal/server/storage"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"max_file_size", cfg.MaxFileSize,
		"max_total_size", cfg.MaxTotalSize,
		"max_downloads", cfg.MaxDownloads,
		"default_expiry_days", cfg.DefaultExpiryDays,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize content storage
	store, err := newStore(cfg)
	if err != nil {
		slog.Error("failed to create storage backend", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureReady(ctx); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("content storage initialized", "backend", cfg.StorageBackend)

	// Initialize repository and service
	repo := database.NewRepository(db)
	svc := service.NewTransferService(repo, store, cfg)

	// Start expiry sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := storage.NewSweeper(repo, store, cfg.SweepInterval)
	sweeper.Start(sweepCtx)

	// Setup HTTP router
	handler := api.NewHandler(svc, db, cfg)
	e := api.SetupRouter(handler, cfg)

	// Start server in a goroutine. Read/write timeouts are sized for
	// multi-GiB uploads and downloads.
	go func() {
		srv := &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Port),
			ReadTimeout:  cfg.RequestTimeout,
			WriteTimeout: cfg.RequestTimeout,
		}
		slog.Info("starting server", "addr", srv.Addr, "base_url", cfg.BaseURL)
		if err := e.StartServer(srv); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop sweeper
	sweepCancel()
	sweeper.Wait()

	slog.Info("server exited cleanly")
}

func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewMinioStore(storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			MaxSize:   cfg.MaxFileSize,
		})
	default:
		return storage.NewFileSystemStore(cfg.StoragePath, cfg.MaxFileSize), nil
	}
}
