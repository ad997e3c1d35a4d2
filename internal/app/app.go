// Package app wires the configured store, delivery gateway, notifiers,
// catalog and engine. Both the API server and leadctl build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/consulting-leads-backend/internal/config"
	"github.com/nyashahama/consulting-leads-backend/internal/email"
	"github.com/nyashahama/consulting-leads-backend/internal/intake"
	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/notify"
	"github.com/nyashahama/consulting-leads-backend/internal/scheduler"
	"github.com/nyashahama/consulting-leads-backend/internal/sequence"
	"github.com/nyashahama/consulting-leads-backend/internal/sequencer"
	"github.com/nyashahama/consulting-leads-backend/internal/store"
	"github.com/nyashahama/consulting-leads-backend/internal/store/sqlite"
	"github.com/nyashahama/consulting-leads-backend/internal/templates"
)

// Store is everything the process needs from a lead store. Both the Postgres
// and the SQLite stores satisfy it.
type Store interface {
	sequencer.LeadStore
	UpsertLead(ctx context.Context, p store.UpsertLeadParams) (store.UpsertResult, error)
	FindByEmail(ctx context.Context, email string) (*lead.Lead, error)
	ListEmailLogs(ctx context.Context, leadID uuid.UUID) ([]lead.EmailLog, error)
	GetMetrics(ctx context.Context, now time.Time) (lead.Metrics, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*store.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
)

// App holds the wired components.
type App struct {
	Store     Store
	Gateway   email.Gateway
	Notifier  notify.Notifier
	Catalog   *sequence.Catalog
	Templates *templates.Resolver
	Engine    *sequencer.Engine
	Intake    *intake.Service

	closers []func() error
}

// Build opens the store and constructs the engine. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	a.Gateway = NewGateway(cfg, logger)

	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}
	if cfg.AdminEmail != "" {
		notifiers = append(notifiers, notify.NewMailNotifier(a.Gateway, cfg.AdminEmail))
	}
	if cfg.AMQPURL != "" {
		an, err := notify.NewAMQPNotifier(cfg.AMQPURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
		notifiers = append(notifiers, an)
		a.closers = append(a.closers, an.Close)
		logger.Info("notify: amqp publisher connected", "exchange", notify.ExchangeName)
	}
	a.Notifier = notify.Fanout(notifiers...)

	if cfg.SequenceDir != "" {
		a.Catalog, err = sequence.Load(cfg.SequenceDir)
	} else {
		a.Catalog, err = sequence.LoadBuiltin()
	}
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: catalog: %w", err)
	}

	a.Templates, err = templates.New()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: templates: %w", err)
	}

	a.Engine, err = sequencer.New(sequencer.Deps{
		Store:     st,
		Gateway:   a.Gateway,
		Catalog:   a.Catalog,
		Templates: a.Templates,
		Notifier:  a.Notifier,
		Logger:    logger,
	}, sequencer.Config{
		SendDelay:  cfg.SendDelay,
		LeadDelay:  cfg.LeadDelay,
		BaseURL:    cfg.BaseURL,
		BookingURL: cfg.BookingURL,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	a.Intake = intake.NewService(st, a.Engine, logger, nil)
	return a, nil
}

// Scheduler builds the scheduler driver with the sequence pass and the daily
// digest jobs. It is not started.
func (a *App) Scheduler(cfg *config.Config, logger *slog.Logger) (*scheduler.Scheduler, error) {
	return scheduler.New(logger,
		scheduler.SequencePassJob(a.Engine, cfg.SequencePassInterval, cfg.PassTimeout),
		scheduler.DigestJob(a.Store, a.Notifier, cfg.DigestInterval),
	)
}

// Close releases the store and notifier connections in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the configured store driver.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return st, nil
	default:
		st, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return st, nil
	}
}

// NewGateway builds the configured delivery gateway, wrapped with the
// fallback driver when one is set.
func NewGateway(cfg *config.Config, logger *slog.Logger) email.Gateway {
	primary := newDriver(cfg, cfg.MailDriver, logger)
	if cfg.MailFallback == "" {
		return primary
	}
	return email.NewFallbackGateway(primary, newDriver(cfg, cfg.MailFallback, logger), logger)
}

func newDriver(cfg *config.Config, driver string, logger *slog.Logger) email.Gateway {
	switch driver {
	case config.MailSMTP:
		return email.NewSMTPGateway(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPass,
			FromAddr: cfg.EmailFromAddr,
			FromName: cfg.EmailFromName,
		})
	case config.MailResend:
		return email.NewResendGateway(email.ResendConfig{
			APIKey:   cfg.ResendAPIKey,
			FromAddr: cfg.EmailFromAddr,
			FromName: cfg.EmailFromName,
		})
	default:
		return email.NewLogGateway(logger)
	}
}
