// Package sequencer is the nurture sequence engine. It decides which catalog
// steps are due for a lead, renders and sends them through the delivery
// gateway, and records each outcome in the lead store.
//
// Every collaborator is passed to New; the package holds no global state
// except its Prometheus collectors.
//
// Idempotency has two layers. Passes are serialized (ProcessAll returns
// ErrPassInProgress while one is running) and each lead is processed under a
// per-lead lock. Underneath, the store's MarkSent is an atomic
// check-and-insert on (sequence, day), so even two processes racing on the
// same lead record a step at most once.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/consulting-leads-backend/internal/email"
	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/notify"
	"github.com/nyashahama/consulting-leads-backend/internal/sequence"
	"github.com/nyashahama/consulting-leads-backend/internal/templates"
)

// ─── ERRORS ──────────────────────────────────────────────────────────────────

var (
	// ErrPassInProgress is returned by ProcessAll when another pass is running.
	ErrPassInProgress = errors.New("sequencer: pass already in progress")

	// ErrStoreUnavailable wraps any lead store failure that aborts a pass.
	ErrStoreUnavailable = errors.New("sequencer: lead store unavailable")
)

// DeliveryError records why one step could not be sent. It wraps either the
// gateway error or templates.ErrTemplateNotFound.
type DeliveryError struct {
	Key lead.StepKey
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("sequencer: deliver %s: %v", e.Key, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// ─── DEPENDENCIES ────────────────────────────────────────────────────────────

// LeadStore is the subset of the lead store the engine needs. Both
// store.Store and sqlite.Store satisfy it.
type LeadStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*lead.Lead, error)
	GetPendingLeads(ctx context.Context, steps []lead.StepKey) ([]*lead.Lead, error)
	WasSent(ctx context.Context, leadID uuid.UUID, key lead.StepKey) (bool, error)
	MarkSent(ctx context.Context, leadID uuid.UUID, key lead.StepKey, entry lead.EmailLog) error
	LogEmail(ctx context.Context, entry lead.EmailLog) error
	Pause(ctx context.Context, id uuid.UUID, reason string) error
	Resume(ctx context.Context, id uuid.UUID) error
	MarkResponded(ctx context.Context, id uuid.UUID, at time.Time) error
	SetMeeting(ctx context.Context, id uuid.UUID, date time.Time) error
	MarkMeetingAttended(ctx context.Context, id uuid.UUID, attended bool) error
}

// Deps are the engine's collaborators. Notifier, Logger and Now are
// optional.
type Deps struct {
	Store     LeadStore
	Gateway   email.Gateway
	Catalog   *sequence.Catalog
	Templates *templates.Resolver
	Notifier  notify.Notifier
	Logger    *slog.Logger
	Now       func() time.Time
}

// Config tunes pacing and link generation.
type Config struct {
	// SendDelay separates consecutive sends to one lead. Zero disables it.
	SendDelay time.Duration

	// LeadDelay separates leads within a pass. Zero disables it.
	LeadDelay time.Duration

	// BaseURL prefixes the unsubscribe link embedded in every email.
	BaseURL string

	// BookingURL is the strategy-call booking link shown in templates.
	BookingURL string
}

// DefaultConfig returns production pacing.
func DefaultConfig() Config {
	return Config{
		SendDelay: time.Second,
		LeadDelay: 200 * time.Millisecond,
	}
}

// ─── ENGINE ──────────────────────────────────────────────────────────────────

// Engine runs sequence passes. Construct one per process with New.
type Engine struct {
	store     LeadStore
	gateway   email.Gateway
	catalog   *sequence.Catalog
	templates *templates.Resolver
	notifier  notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
	cfg       Config

	passMu sync.Mutex
	locks  *leadLocks
	stats  *statsRecorder
}

// New validates deps and returns an Engine. Every template named by the
// catalog must exist in the resolver.
func New(deps Deps, cfg Config) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("sequencer: store is required")
	case deps.Gateway == nil:
		return nil, errors.New("sequencer: gateway is required")
	case deps.Catalog == nil:
		return nil, errors.New("sequencer: catalog is required")
	case deps.Templates == nil:
		return nil, errors.New("sequencer: templates are required")
	}
	if err := deps.Templates.Validate(deps.Catalog.Templates()); err != nil {
		return nil, fmt.Errorf("sequencer: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(deps.Logger)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Engine{
		store:     deps.Store,
		gateway:   deps.Gateway,
		catalog:   deps.Catalog,
		templates: deps.Templates,
		notifier:  deps.Notifier,
		logger:    deps.Logger.With("component", "sequencer"),
		now:       deps.Now,
		cfg:       cfg,
		locks:     newLeadLocks(),
		stats:     &statsRecorder{},
	}, nil
}

// Catalog returns the catalog the engine schedules from.
func (e *Engine) Catalog() *sequence.Catalog { return e.catalog }

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
