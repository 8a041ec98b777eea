// Command certdesk-worker processes staged files enqueued by
// "certdesk process --async", one file at a time.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/certdesk/internal/api"
	"github.com/dharsanguruparan/certdesk/internal/config"
	"github.com/dharsanguruparan/certdesk/internal/database"
	"github.com/dharsanguruparan/certdesk/internal/logging"
	"github.com/dharsanguruparan/certdesk/internal/processing"
	"github.com/dharsanguruparan/certdesk/internal/queue"
	"github.com/dharsanguruparan/certdesk/internal/repository"
	"github.com/dharsanguruparan/certdesk/internal/s3storage"
	"github.com/dharsanguruparan/certdesk/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	repo := repository.NewSessionRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}

	client := api.New(cfg.APIBaseURL,
		api.WithToken(cfg.AuthToken),
		api.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		api.WithLogger(logger))
	dispatcher := processing.NewDispatcher(client, store, logger)
	processor := worker.NewProcessor(repo, dispatcher, logger)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		// One file at a time keeps the OCR backend load predictable.
		Concurrency: 1,
		Queues:      map[string]int{queue.Name: 1},
		Logger:      logging.AsynqLogger(logger),
	})

	if err := server.Start(processor.Handler()); err != nil {
		return err
	}
	logger.Info("worker started", "redis", cfg.RedisAddr, "queue", queue.Name)
	<-ctx.Done()
	logger.Info("shutting down")
	server.Shutdown()
	return nil
}
