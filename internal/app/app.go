// Package app assembles the evaluation components from configuration so the
// server, the standalone worker and the CLI share one wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/tutoreval/internal/cache"
	"github.com/kiranshivaraju/tutoreval/internal/config"
	"github.com/kiranshivaraju/tutoreval/internal/engine"
	"github.com/kiranshivaraju/tutoreval/internal/jobs"
	"github.com/kiranshivaraju/tutoreval/internal/metrics"
	"github.com/kiranshivaraju/tutoreval/internal/queue"
	"github.com/kiranshivaraju/tutoreval/internal/scoring"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/kiranshivaraju/tutoreval/internal/worker"
)

// App holds the wired components. Close releases connections.
type App struct {
	Config   *config.Config
	Store    store.Store
	Cache    cache.Cache
	Queue    queue.Distributor
	Tracker  *jobs.Tracker
	Manager  *jobs.Manager
	Engines  *engine.Registry
	Metrics  *scoring.Registry
	Executor *worker.Executor

	logger  *slog.Logger
	closers []func()
}

// Connect opens Postgres and Redis, applies migrations and wires the rest on
// top of them.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	logger.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		a.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	rdb, err := cache.NewClient(cfg.Redis.URL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })

	redisCache := cache.NewRedisCache(rdb)
	if err := redisCache.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	if err := a.wire(store.NewPostgresStore(pool), redisCache, queue.NewRedisQueue(rdb, cfg.Worker.MaxDeliveries)); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// InMemory wires the components over process-local store, cache and queue.
func InMemory(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}
	if err := a.wire(store.NewMemoryStore(), cache.NewMemoryCache(), queue.NewMemoryQueue(cfg.Worker.MaxDeliveries)); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) wire(st store.Store, ca cache.Cache, q queue.Distributor) error {
	engines, err := engine.NewRegistry(a.Config.Engines)
	if err != nil {
		return fmt.Errorf("build engine registry: %w", err)
	}
	a.Store = st
	a.Cache = ca
	a.Queue = q
	a.Engines = engines
	a.Metrics = scoring.DefaultRegistry()
	a.Tracker = jobs.NewTracker(st, ca, a.logger)
	a.Manager = jobs.NewManager(st, q, a.Tracker, a.Config.Worker.TaskTTL, a.logger, jobs.WithMaxTimeout(a.Config.Worker.StaleAfter))
	a.Executor = worker.NewExecutor(engines, a.Metrics, a.Tracker, a.Config.Engines.DefaultTimeout, a.logger)
	metrics.RegisterQueueCollector(q, a.logger)
	return nil
}

// Pool builds a worker pool sized by concurrency over the shared queue.
func (a *App) Pool(name string, concurrency int) *worker.Pool {
	w := a.Config.Worker
	return worker.NewPool(a.Queue, a.Executor, a.Tracker, worker.PoolConfig{
		Name:        name,
		Concurrency: concurrency,
		ClaimWait:   w.ClaimWait,
		StaleAfter:  w.StaleAfter,
		JobDeadline: w.JobDeadline,
	}, a.logger)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
