package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vidgateway/internal/api"
	"vidgateway/internal/config"
	"vidgateway/internal/platform/logger"
	"vidgateway/internal/platform/memstore"
	"vidgateway/internal/platform/postgres"
	"vidgateway/internal/pool"
	"vidgateway/internal/provider"
	"vidgateway/internal/queue"
	"vidgateway/internal/store"
	"vidgateway/internal/worker"
)

// application holds the wired components of the running gateway.
type application struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *sql.DB // nil when running on the in-memory store
	pool       *pool.Manager
	queue      *queue.Engine
	dispatcher *worker.Dispatcher
	server     *http.Server
}

// newApplication loads configuration and wires every component: stores,
// session pool, queue engine, worker dispatcher and the HTTP server. Crash
// recovery runs here, before any worker can observe stale state.
func newApplication(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server.LogLevel)
	log.Info("configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.Int("worker_concurrency", cfg.Worker.Concurrency),
		slog.Bool("persistent_store", cfg.Database.URL != ""))

	app := &application{cfg: cfg, logger: log}

	sessions, tasks, err := app.openStores(ctx)
	if err != nil {
		return nil, err
	}

	generator := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.RequestTimeout)

	app.pool = pool.NewManager(sessions, generator, pool.Config{
		DefaultCapacity: cfg.Pool.DefaultCapacity,
		UnhealthyAfter:  cfg.Pool.UnhealthyAfter,
	}, log)

	app.queue = queue.NewEngine(tasks, cfg.Worker.Concurrency, cfg.Worker.CompletionWindow, log)

	workerCfg := worker.Config{
		Concurrency:     cfg.Worker.Concurrency,
		ClaimBackoff:    cfg.Worker.ClaimBackoff,
		SubmitRetries:   cfg.Worker.SubmitRetries,
		PollInterval:    cfg.Worker.PollInterval,
		MaxPollDuration: cfg.Worker.MaxPollDuration,
		StaleTaskAge:    cfg.Worker.StaleTaskAge,
	}
	app.dispatcher = worker.NewDispatcher(tasks, app.pool, generator, workerCfg, log)

	if err := worker.RunRecovery(ctx, sessions, tasks, cfg.Worker.StaleTaskAge, log); err != nil {
		return nil, fmt.Errorf("crash recovery failed: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(app.queue, app.pool, cfg.Auth, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

// openStores selects the persistence layer: PostgreSQL when a database URL
// is configured (with migrations applied), otherwise the in-memory store
// for development, which loses all state on restart.
func (app *application) openStores(ctx context.Context) (store.SessionStore, store.TaskStore, error) {
	if app.cfg.Database.URL == "" {
		app.logger.Warn("no database configured, using in-memory store")
		ms := memstore.New()
		return ms, ms, nil
	}

	db, err := sql.Open("pgx", app.cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	app.db = db
	return postgres.NewSessionStore(db), postgres.NewTaskStore(db), nil
}

// Run starts the worker dispatcher and the HTTP server, blocking until the
// context is cancelled, then shuts both down gracefully.
func (app *application) Run(ctx context.Context) error {
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		app.dispatcher.Run(ctx)
	}()

	go app.runProbeLoop(ctx)

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("server listening", slog.String("addr", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	app.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}

	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		app.logger.Warn("dispatcher did not stop in time")
	}
	return nil
}

// runProbeLoop pings every enabled session on an interval so unhealthy
// credentials are flagged before a worker wastes a task on them.
func (app *application) runProbeLoop(ctx context.Context) {
	ticker := time.NewTicker(app.cfg.Pool.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.pool.ProbeAll(ctx)
		}
	}
}

// Close releases held resources.
func (app *application) Close() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", slog.String("error", err.Error()))
		}
	}
}
