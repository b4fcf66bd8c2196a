// Package main is evalctl, the operator CLI: in-process evaluation runs,
// dataset import and API key management.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kiranshivaraju/tutoreval/internal/app"
	"github.com/kiranshivaraju/tutoreval/internal/config"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	if err := newRootCmd(connectPostgres).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// connectFunc opens the components backing the persistent commands.
type connectFunc func(ctx context.Context) (*app.App, error)

func connectPostgres(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Connect(ctx, cfg, slog.Default())
}
