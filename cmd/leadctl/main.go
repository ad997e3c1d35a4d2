package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nyashahama/consulting-leads-backend/internal/app"
	"github.com/nyashahama/consulting-leads-backend/internal/cli"
	"github.com/nyashahama/consulting-leads-backend/internal/config"
)

func main() {
	// Diagnostics go to stderr so --json output stays parseable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	load := func(ctx context.Context) (*cli.Env, func() error, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("config: %w", err)
		}
		a, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return &cli.Env{Engine: a.Engine, Store: a.Store, Gateway: a.Gateway}, a.Close, nil
	}

	if err := cli.Execute(ctx, load, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "leadctl:", err)
		os.Exit(1)
	}
}
