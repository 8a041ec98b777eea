package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/certdesk/internal/api"
	"github.com/dharsanguruparan/certdesk/internal/config"
	"github.com/dharsanguruparan/certdesk/internal/database"
	"github.com/dharsanguruparan/certdesk/internal/fraud"
	"github.com/dharsanguruparan/certdesk/internal/intake"
	"github.com/dharsanguruparan/certdesk/internal/logging"
	"github.com/dharsanguruparan/certdesk/internal/notify"
	"github.com/dharsanguruparan/certdesk/internal/processing"
	"github.com/dharsanguruparan/certdesk/internal/repository"
	"github.com/dharsanguruparan/certdesk/internal/review"
	"github.com/dharsanguruparan/certdesk/internal/s3storage"
	"github.com/dharsanguruparan/certdesk/internal/storage"
)

// app carries the dependencies shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	errOut io.Writer
	client *api.Client
	banner *notify.Banner

	session string
	closers []func()
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.session != "" {
		cfg.SessionID = a.session
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()
	a.logger = logging.New(a.errOut, cfg.LogLevel)
	slog.SetDefault(a.logger)
	a.client = api.New(cfg.APIBaseURL,
		api.WithToken(cfg.AuthToken),
		api.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		api.WithLogger(a.logger))
	a.banner = notify.NewBanner(cfg.AlertTTL,
		notify.WithLogger(a.logger),
		notify.WithSink(func(al notify.Alert) {
			fmt.Fprintf(a.errOut, "[%s] %s\n", al.Level, al.Message)
		}))
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// sessionStore is a review.SessionStore that can also drop a session.
type sessionStore interface {
	review.SessionStore
	Delete(ctx context.Context, id string) error
}

// sessionStore uses PostgreSQL when a database is configured so the worker
// sees the same session, and a local JSON file otherwise.
func (a *app) sessionStore(ctx context.Context) (sessionStore, error) {
	if a.cfg.DatabaseURL == "" {
		return storage.NewFileStore(a.cfg.SessionDir)
	}
	repo, err := a.repository(ctx)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func (a *app) repository(ctx context.Context) (*repository.SessionRepository, error) {
	pool, err := database.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return nil, err
	}
	return repository.NewSessionRepository(pool), nil
}

func (a *app) controller(ctx context.Context) (*review.Controller, error) {
	store, err := a.sessionStore(ctx)
	if err != nil {
		return nil, err
	}
	ctrl := review.NewController(a.cfg.SessionID, store,
		review.WithApprover(a.client),
		review.WithBanner(a.banner),
		review.WithLogger(a.logger))
	if err := ctrl.Load(ctx); err != nil {
		return nil, err
	}
	return ctrl, nil
}

func (a *app) stager() *intake.Stager {
	return intake.NewStager(intake.NewValidator(a.cfg.MaxFileSize, a.cfg.AllowedTypes, a.cfg.AllowedExtensions))
}

// runner starts a processing queue bound to ctx.
func (a *app) runner(ctx context.Context, ctrl *review.Controller) *processing.Runner {
	dispatcher := processing.NewDispatcher(a.client, processing.LocalFiles{}, a.logger)
	queue := processing.NewQueue(dispatcher, a.cfg.QueueSize, a.logger)
	queue.Start(ctx)
	return processing.NewRunner(ctrl, queue, a.logger)
}

func (a *app) objectStore(ctx context.Context) (*s3storage.Storage, error) {
	store, err := s3storage.New(a.cfg)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) queueClient() *asynq.Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	a.closers = append(a.closers, func() { _ = client.Close() })
	return client
}

func (a *app) fraudManager(opts ...fraud.Option) *fraud.Manager {
	opts = append([]fraud.Option{
		fraud.WithPerPage(a.cfg.PerPage),
		fraud.WithBanner(a.banner),
		fraud.WithLogger(a.logger),
	}, opts...)
	return fraud.NewManager(a.client, opts...)
}

func openOutput(path string, fallback io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return fallback, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, f.Close, nil
}
