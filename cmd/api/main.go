package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nyashahama/consulting-leads-backend/internal/api"
	"github.com/nyashahama/consulting-leads-backend/internal/app"
	"github.com/nyashahama/consulting-leads-backend/internal/config"
	"github.com/nyashahama/consulting-leads-backend/internal/server"
	stripeinternal "github.com/nyashahama/consulting-leads-backend/internal/stripe"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	// JSON in production, text in development.
	var logger *slog.Logger
	if os.Getenv("ENV") == "production" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// Root context cancelled by OS signal. Scheduler, health checks and the
	// server all respect it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("config loaded",
		"env", cfg.Env,
		"port", cfg.Port,
		"store", cfg.StoreDriver,
		"mail", cfg.MailDriver,
	)

	// ── Store, gateway, notifiers, engine ─────────────────────────────────────
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info("engine ready", "sequences", a.Catalog.IDs())

	// ── Scheduler ─────────────────────────────────────────────────────────────
	sched, err := a.Scheduler(cfg, logger)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if cfg.SchedulerEnabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	} else {
		logger.Info("scheduler disabled; start it from the admin API")
	}
	defer sched.Stop()

	// ── HTTP handler ──────────────────────────────────────────────────────────
	handler := api.NewServer(api.Deps{
		Intake:    a.Intake,
		Engine:    a.Engine,
		Leads:     a.Store,
		Scheduler: sched,
		Stripe:    stripeinternal.NewClient(),
	}, api.Config{
		Env:                 cfg.Env,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		WebhookSecret:       cfg.WebhookSecret,
		AdminToken:          cfg.AdminToken,
		CORSOrigins:         cfg.CORSOrigins,
	}, logger)

	// ── Server (HTTP + gRPC health on one port) ───────────────────────────────
	srv := server.New(handler, logger, server.Options{})

	hc := server.NewHealthChecker(srv.Health(), map[string]server.Check{
		"store": a.Store.Ping,
		"email": a.Gateway.TestConnection,
	}, time.Minute, logger)
	go hc.Run(ctx)

	lis, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return srv.Serve(ctx, lis)
}
