package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fcshare/internal/server/api"
	"fcshare/internal/server/auth"
	"fcshare/internal/server/config"
	"fcshare/internal/server/database"
	"fcshare/internal/server/logging"
	"fcshare/internal/server/queue"
	"fcshare/internal/server/service"
	"fcshare/internal/server/shortlink"
	"fcshare/internal/server/stats"
	"fcshare/internal/server/storage"

	"github.com/dustin/go-humanize"
	"github.com/getsentry/sentry-go"
)

func main() {
	// Load config
	cfg := config.Load()
	logging.Setup(cfg.LogFile)
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_path", cfg.StoragePath,
		"max_file_size", humanize.IBytes(uint64(cfg.MaxFileSize)),
		"token_ttl", cfg.TokenTTL,
	)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			slog.Error("failed to initialize sentry", "error", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

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

	// Connect to the job queue
	redisClient, err := queue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	jobQueue := queue.NewRedisQueue(redisClient, queue.DefaultKey)

	// Initialize storage
	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("file storage initialized", "path", cfg.StoragePath)

	// Repositories and services
	links := database.NewShortLinkRepository(db.SQL)
	users := database.NewUserRepository(db.SQL)
	jobs := database.NewJobRepository(db.SQL)

	registry, err := shortlink.NewRegistry(links, cfg.SlugCacheSize)
	if err != nil {
		slog.Error("failed to create short link registry", "error", err)
		os.Exit(1)
	}
	uploads := service.NewUploadService(registry, store, cfg)
	tokens := auth.NewTokenService(cfg.SecretKey)

	// Background loops stop on shutdown
	bgCtx, bgCancel := context.WithCancel(context.Background())

	// Start cleanup service
	cleanup := storage.NewCleanupService(links, store, cfg.CleanupInterval, cfg.OrphanGrace)
	cleanup.Start(bgCtx)

	// Setup HTTP router
	handler := api.NewHandler(api.Deps{
		Credentials: auth.NewCredentialStore(users),
		Tokens:      tokens,
		Uploads:     uploads,
		Scheduler:   stats.NewScheduler(jobs, jobQueue),
		Jobs:        jobs,
		Checks: map[string]api.HealthChecker{
			"database": db,
			"queue":    jobQueue,
		},
	}, cfg)
	e := api.SetupRouter(bgCtx, handler, auth.NewResolver(tokens, users), cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "api_url", cfg.APIURL)
		if err := e.Start(addr); err != nil {
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

	bgCancel()
	cleanup.Wait()

	slog.Info("server exited cleanly")
}
