package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fcshare/internal/server/config"
	"fcshare/internal/server/database"
	"fcshare/internal/server/logging"
	"fcshare/internal/server/queue"
	"fcshare/internal/server/stats"

	"github.com/getsentry/sentry-go"
)

const popTimeout = 5 * time.Second

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogFile)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			slog.Error("failed to initialize sentry", "error", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := queue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	runner := stats.NewRunner(
		database.NewJobRepository(db.SQL),
		database.NewShortLinkRepository(db.SQL),
		database.NewUserRepository(db.SQL),
	)
	worker := stats.NewWorker(queue.NewRedisQueue(redisClient, queue.DefaultKey), runner, popTimeout)

	workerCtx, cancel := context.WithCancel(context.Background())
	worker.Start(workerCtx)
	slog.Info("statistics worker started", "queue", queue.DefaultKey)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)
	cancel()
	worker.Wait()

	slog.Info("worker exited cleanly")
}
