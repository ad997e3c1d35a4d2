// Package api implements the HTTP layer for the lead sequencing service.
// Handlers are methods on *Server. Each handler file is responsible for one
// resource group and only uses the dependencies it needs.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nyashahama/consulting-leads-backend/internal/intake"
	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/scheduler"
	"github.com/nyashahama/consulting-leads-backend/internal/sequencer"
	stripeinternal "github.com/nyashahama/consulting-leads-backend/internal/stripe"
)

// Config holds values read from the environment at startup.
type Config struct {
	// Env is "production", "staging", or "development".
	Env string

	// StripeWebhookSecret is the signing secret from the Stripe dashboard.
	StripeWebhookSecret string

	// WebhookSecret guards /api/webhooks/email. Empty disables the route.
	WebhookSecret string

	// AdminToken is the bearer token for /api/admin. Empty disables the
	// admin routes.
	AdminToken string

	// CORSOrigins lists the front-end origins allowed to call the API. Empty
	// allows any origin outside production.
	CORSOrigins []string
}

// ─── DEPENDENCIES ────────────────────────────────────────────────────────────

// Intake accepts diagnostic submissions.
type Intake interface {
	Submit(ctx context.Context, sub intake.Submission) (intake.Result, error)
}

// Engine is the sequencer surface the handlers drive.
type Engine interface {
	PauseLead(ctx context.Context, id uuid.UUID, reason string) error
	ResumeLead(ctx context.Context, id uuid.UUID) error
	MarkResponded(ctx context.Context, id uuid.UUID, responseType string) error
	Unsubscribe(ctx context.Context, id uuid.UUID) error
	MeetingScheduled(ctx context.Context, id uuid.UUID, date time.Time) error
	MeetingMissed(ctx context.Context, id uuid.UUID) error
	MeetingAttended(ctx context.Context, id uuid.UUID) error

	LeadState(l *lead.Lead) lead.State
	DueSteps(l *lead.Lead, now time.Time) []sequencer.DueStep
	PendingLeads(ctx context.Context) ([]sequencer.PendingLead, error)
	Stats() sequencer.Stats
	ResetStats()
}

// LeadReader is the read side of the lead store.
type LeadReader interface {
	FindByEmail(ctx context.Context, email string) (*lead.Lead, error)
	FindByID(ctx context.Context, id uuid.UUID) (*lead.Lead, error)
	ListEmailLogs(ctx context.Context, leadID uuid.UUID) ([]lead.EmailLog, error)
	GetMetrics(ctx context.Context, now time.Time) (lead.Metrics, error)
	Ping(ctx context.Context) error
}

// Scheduler is the scheduler driver surface exposed to operators.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	StartJob(name string) error
	StopJob(name string) error
	Trigger(name string) error
	Stats() []scheduler.JobStats
	ResetStats()
}

// Deps groups the collaborators. Stripe may be nil, in which case the Stripe
// webhook answers 404.
type Deps struct {
	Intake    Intake
	Engine    Engine
	Leads     LeadReader
	Scheduler Scheduler
	Stripe    stripeinternal.Client
	Now       func() time.Time
}

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	intake    Intake
	engine    Engine
	leads     LeadReader
	scheduler Scheduler
	stripe    stripeinternal.Client
	now       func() time.Time

	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to http.Server.
func NewServer(deps Deps, cfg Config, logger *slog.Logger) http.Handler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{
		intake:    deps.Intake,
		engine:    deps.Engine,
		leads:     deps.Leads,
		scheduler: deps.Scheduler,
		stripe:    deps.Stripe,
		now:       now,
		cfg:       cfg,
		logger:    logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(metricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(s.corsOptions()))
	r.Use(middleware.Timeout(30 * time.Second))

	// ── Health and metrics ────────────────────────────────────────────────────
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	// ── API ───────────────────────────────────────────────────────────────────
	r.Route("/api", func(r chi.Router) {

		// Diagnostic intake, called by the quiz front-end.
		r.Post("/diagnostic", s.handleDiagnostic)

		// Unsubscribe link from every sequence email. GET only renders the
		// confirmation form; POST acts, which also serves one-click
		// List-Unsubscribe-Post clients.
		r.Get("/unsubscribe/{leadID}", s.handleUnsubscribe)
		r.Post("/unsubscribe/{leadID}", s.handleUnsubscribe)

		r.Route("/webhooks", func(r chi.Router) {
			// Stripe: signature verification inside the handler.
			r.Post("/stripe", s.handleStripeWebhook)

			// Mailbox and calendar integrations: shared secret header.
			r.With(s.requireWebhookSecret).Post("/email", s.handleEmailWebhook)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Get("/metrics", s.handleGetMetrics)
			r.Delete("/metrics", s.handleResetMetrics)

			r.Route("/scheduler", func(r chi.Router) {
				r.Post("/start", s.handleSchedulerStart)
				r.Post("/stop", s.handleSchedulerStop)
				r.Get("/metrics", s.handleSchedulerMetrics)
				r.Delete("/metrics", s.handleSchedulerResetMetrics)
				r.Post("/jobs/{job}/start", s.handleJobStart)
				r.Post("/jobs/{job}/stop", s.handleJobStop)
				r.Post("/jobs/{job}/run", s.handleJobRun)
			})

			r.Route("/leads", func(r chi.Router) {
				r.Get("/pending", s.handlePendingLeads)
				r.Route("/{leadID}", func(r chi.Router) {
					r.Get("/", s.handleGetLead)
					r.Post("/pause", s.handlePauseLead)
					r.Post("/resume", s.handleResumeLead)
					r.Post("/respond", s.handleRespondLead)
				})
			})
		})
	})

	return r
}

func (s *Server) corsOptions() cors.Options {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 && s.cfg.Env != "production" {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		MaxAge:         86400,
	}
}

// ─── GET /healthz ────────────────────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.leads.Ping(ctx); err != nil {
		s.logger.Warn("healthz: store unreachable", "error", err, logField(r))
		respond(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
