// Package main is the entrypoint for the tutor evaluation API server.
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

	"github.com/kiranshivaraju/tutoreval/internal/api"
	"github.com/kiranshivaraju/tutoreval/internal/app"
	"github.com/kiranshivaraju/tutoreval/internal/config"
	"github.com/kiranshivaraju/tutoreval/internal/tracing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "inline_workers", cfg.Server.InlineWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, "tutoreval-api", cfg.Tracing, slog.Default())
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a, err := app.Connect(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	return serve(ctx, cfg, a)
}

// serve runs the HTTP server, and an inline worker pool when configured,
// until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, a *app.App) error {
	handler := newHandler(a)

	poolDone := make(chan error, 1)
	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	if cfg.Server.InlineWorkers > 0 {
		go func() { poolDone <- a.Pool("api-inline", cfg.Server.InlineWorkers).Run(poolCtx) }()
	} else {
		close(poolDone)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	stopPool()
	if err := <-poolDone; err != nil {
		return fmt.Errorf("inline workers: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func newHandler(a *app.App) http.Handler {
	return api.New(api.Services{
		Store:             a.Store,
		Cache:             a.Cache,
		Jobs:              a.Manager,
		Metrics:           a.Metrics,
		Engines:           a.Engines,
		RequestsPerMinute: a.Config.RateLimit.PerMinute,
	})
}
