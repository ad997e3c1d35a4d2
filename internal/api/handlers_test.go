package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/consulting-leads-backend/internal/api"
	"github.com/nyashahama/consulting-leads-backend/internal/intake"
	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/scheduler"
	"github.com/nyashahama/consulting-leads-backend/internal/sequence"
	"github.com/nyashahama/consulting-leads-backend/internal/sequencer"
	"github.com/nyashahama/consulting-leads-backend/internal/store"
	stripeinternal "github.com/nyashahama/consulting-leads-backend/internal/stripe"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

const (
	adminToken    = "admin-secret"
	webhookSecret = "hook-secret"
)

// ─── STUBS ────────────────────────────────────────────────────────────────────

type stubIntake struct {
	res intake.Result
	err error
	got []intake.Submission
}

func (s *stubIntake) Submit(_ context.Context, sub intake.Submission) (intake.Result, error) {
	s.got = append(s.got, sub)
	return s.res, s.err
}

// stubEngine records lifecycle calls as "op:leadID[:arg]".
type stubEngine struct {
	api.Engine // embedded to panic on unimplemented methods

	mu      sync.Mutex
	calls   []string
	err     error
	due     []sequencer.DueStep
	pending []sequencer.PendingLead
	stats   sequencer.Stats
	resets  int
}

func (e *stubEngine) record(call string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
	return e.err
}

func (e *stubEngine) PauseLead(_ context.Context, id uuid.UUID, reason string) error {
	return e.record("pause:" + id.String() + ":" + reason)
}

func (e *stubEngine) ResumeLead(_ context.Context, id uuid.UUID) error {
	return e.record("resume:" + id.String())
}

func (e *stubEngine) MarkResponded(_ context.Context, id uuid.UUID, typ string) error {
	return e.record("respond:" + id.String() + ":" + typ)
}

func (e *stubEngine) Unsubscribe(_ context.Context, id uuid.UUID) error {
	return e.record("unsubscribe:" + id.String())
}

func (e *stubEngine) MeetingScheduled(_ context.Context, id uuid.UUID, date time.Time) error {
	return e.record("meeting:" + id.String() + ":" + date.Format(time.RFC3339))
}

func (e *stubEngine) MeetingMissed(_ context.Context, id uuid.UUID) error {
	return e.record("missed:" + id.String())
}

func (e *stubEngine) MeetingAttended(_ context.Context, id uuid.UUID) error {
	return e.record("attended:" + id.String())
}

func (e *stubEngine) LeadState(l *lead.Lead) lead.State { return l.BaseState() }

func (e *stubEngine) DueSteps(*lead.Lead, time.Time) []sequencer.DueStep { return e.due }

func (e *stubEngine) PendingLeads(context.Context) ([]sequencer.PendingLead, error) {
	return e.pending, e.err
}

func (e *stubEngine) Stats() sequencer.Stats { return e.stats }

func (e *stubEngine) ResetStats() { e.resets++ }

type stubLeads struct {
	api.LeadReader

	byID    map[uuid.UUID]*lead.Lead
	logs    map[uuid.UUID][]lead.EmailLog
	metrics lead.Metrics
	pingErr error
	findErr error
}

func newStubLeads() *stubLeads {
	return &stubLeads{
		byID: make(map[uuid.UUID]*lead.Lead),
		logs: make(map[uuid.UUID][]lead.EmailLog),
	}
}

func (s *stubLeads) add(email string) *lead.Lead {
	l := &lead.Lead{
		ID:             uuid.New(),
		Email:          email,
		Name:           "Ada",
		DiagnosticDate: testNow.AddDate(0, 0, -3),
		EmailsSent:     lead.NewStepSet(),
	}
	s.byID[l.ID] = l
	return l
}

func (s *stubLeads) FindByEmail(_ context.Context, email string) (*lead.Lead, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, l := range s.byID {
		if l.Email == store.NormalizeEmail(email) {
			return l, nil
		}
	}
	return nil, store.ErrLeadNotFound
}

func (s *stubLeads) FindByID(_ context.Context, id uuid.UUID) (*lead.Lead, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	l, ok := s.byID[id]
	if !ok {
		return nil, store.ErrLeadNotFound
	}
	return l, nil
}

func (s *stubLeads) ListEmailLogs(_ context.Context, id uuid.UUID) ([]lead.EmailLog, error) {
	return s.logs[id], nil
}

func (s *stubLeads) GetMetrics(context.Context, time.Time) (lead.Metrics, error) {
	return s.metrics, nil
}

func (s *stubLeads) Ping(context.Context) error { return s.pingErr }

type stubScheduler struct {
	api.Scheduler

	running  bool
	startErr error
	jobErr   error
	calls    []string
	resets   int
}

func (s *stubScheduler) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.running = true
	return nil
}

func (s *stubScheduler) Stop()         { s.running = false }
func (s *stubScheduler) Running() bool { return s.running }

func (s *stubScheduler) StartJob(name string) error {
	s.calls = append(s.calls, "start:"+name)
	return s.jobErr
}

func (s *stubScheduler) StopJob(name string) error {
	s.calls = append(s.calls, "stop:"+name)
	return s.jobErr
}

func (s *stubScheduler) Trigger(name string) error {
	s.calls = append(s.calls, "run:"+name)
	return s.jobErr
}

func (s *stubScheduler) Stats() []scheduler.JobStats {
	return []scheduler.JobStats{{Name: scheduler.JobSequencePass, Runs: 4}}
}

func (s *stubScheduler) ResetStats() { s.resets++ }

type stubStripe struct {
	event stripeinternal.Event
	err   error
}

func (s *stubStripe) VerifyWebhook([]byte, string, string) (stripeinternal.Event, error) {
	return s.event, s.err
}

// ─── HELPERS ──────────────────────────────────────────────────────────────────

type testDeps struct {
	intake    *stubIntake
	engine    *stubEngine
	leads     *stubLeads
	scheduler *stubScheduler
	stripe    *stubStripe
	handler   http.Handler
}

func newTestServer(t *testing.T, cfgOverrides ...func(*api.Config)) *testDeps {
	t.Helper()

	d := &testDeps{
		intake:    &stubIntake{},
		engine:    &stubEngine{},
		leads:     newStubLeads(),
		scheduler: &stubScheduler{},
		stripe:    &stubStripe{},
	}

	cfg := api.Config{
		Env:                 "development",
		StripeWebhookSecret: "whsec_test",
		WebhookSecret:       webhookSecret,
		AdminToken:          adminToken,
	}
	for _, fn := range cfgOverrides {
		fn(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d.handler = api.NewServer(api.Deps{
		Intake:    d.intake,
		Engine:    d.engine,
		Leads:     d.leads,
		Scheduler: d.scheduler,
		Stripe:    d.stripe,
		Now:       func() time.Time { return testNow },
	}, cfg, logger)
	return d
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(dst), "raw: %s", rr.Body.String())
}

func admin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminToken}
}

func hook() map[string]string {
	return map[string]string{"X-Webhook-Secret": webhookSecret}
}

// ─── HEALTH ───────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	deps.leads.pingErr = errors.New("connection refused")
	rr = doRequest(t, deps.handler, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	deps := newTestServer(t)
	doRequest(t, deps.handler, http.MethodGet, "/healthz", nil, nil)

	rr := doRequest(t, deps.handler, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `http_requests_total{method="GET",path="/healthz"`)
}

// ─── DIAGNOSTIC ───────────────────────────────────────────────────────────────

func TestDiagnostic_NewLeadReturns201(t *testing.T) {
	deps := newTestServer(t)
	id := uuid.New()
	deps.intake.res = intake.Result{
		LeadID:       id,
		IsNewLead:    true,
		EmailsToSend: []lead.StepKey{{SequenceID: "diagnostic_followup", Day: 0}},
		Sent:         1,
	}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/diagnostic", map[string]any{
		"email":   "ada@example.com",
		"name":    "Ada",
		"answers": map[string]string{"primary_challenge": "manual_processes"},
	}, nil)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var got intake.Result
	decodeJSON(t, rr, &got)
	assert.Equal(t, id, got.LeadID)
	assert.True(t, got.IsNewLead)
	assert.Equal(t, 1, got.Sent)
	require.Len(t, deps.intake.got, 1)
	assert.Equal(t, "ada@example.com", deps.intake.got[0].Email)
}

func TestDiagnostic_ExistingLeadReturns200(t *testing.T) {
	deps := newTestServer(t)
	deps.intake.res = intake.Result{LeadID: uuid.New(), IsNewLead: false}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/diagnostic", map[string]any{
		"email": "ada@example.com", "name": "Ada", "answers": map[string]string{"primary_challenge": "x"},
	}, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDiagnostic_ValidationErrorsReturn422(t *testing.T) {
	deps := newTestServer(t)
	deps.intake.err = intake.ValidationErrors{{Field: "email", Message: "is required"}}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/diagnostic", map[string]any{"name": "Ada"}, nil)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var body struct {
		Fields []intake.ValidationError `json:"fields"`
	}
	decodeJSON(t, rr, &body)
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "email", body.Fields[0].Field)
}

func TestDiagnostic_UnknownFieldsReturn400(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodPost, "/api/diagnostic", map[string]any{"evil": true}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, deps.intake.got)
}

func TestDiagnostic_StoreErrorReturns500(t *testing.T) {
	deps := newTestServer(t)
	deps.intake.err = errors.New("intake: upsert lead: connection reset")
	rr := doRequest(t, deps.handler, http.MethodPost, "/api/diagnostic", map[string]any{"email": "a@b.co"}, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection reset")
}

// ─── UNSUBSCRIBE ──────────────────────────────────────────────────────────────

func TestUnsubscribe_RendersConfirmation(t *testing.T) {
	deps := newTestServer(t)
	l := deps.leads.add("ada@example.com")

	rr := doRequest(t, deps.handler, http.MethodGet, "/api/unsubscribe/"+l.ID.String(), nil, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	body := rr.Body.String()
	assert.Contains(t, body, `method="post"`)
	assert.Contains(t, body, `action="/api/unsubscribe/`+l.ID.String()+`"`)
	assert.NotContains(t, body, "You're unsubscribed")
	assert.Empty(t, deps.engine.calls, "a GET must not unsubscribe")

	// Link scanners may fetch the URL more than once.
	doRequest(t, deps.handler, http.MethodGet, "/api/unsubscribe/"+l.ID.String(), nil, nil)
	assert.Empty(t, deps.engine.calls)
}

func TestUnsubscribe_PostUnsubscribes(t *testing.T) {
	deps := newTestServer(t)
	l := deps.leads.add("ada@example.com")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/unsubscribe/"+l.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), "unsubscribed")
	assert.Equal(t, []string{"unsubscribe:" + l.ID.String()}, deps.engine.calls)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/unsubscribe/"+l.ID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, deps.engine.calls, 2)
}

func TestUnsubscribe_BadAndUnknownIDs(t *testing.T) {
	deps := newTestServer(t)

	rr := doRequest(t, deps.handler, http.MethodGet, "/api/unsubscribe/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, deps.handler, http.MethodGet, "/api/unsubscribe/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Empty(t, deps.engine.calls)
}

// ─── EMAIL WEBHOOK ────────────────────────────────────────────────────────────

func TestEmailWebhook_RequiresSecret(t *testing.T) {
	deps := newTestServer(t)
	body := map[string]any{"event": "email_reply", "email": "ada@example.com"}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/email", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/email", body,
		map[string]string{"X-Webhook-Secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, deps.engine.calls)
}

func TestEmailWebhook_DisabledWithoutSecret(t *testing.T) {
	deps := newTestServer(t, func(c *api.Config) { c.WebhookSecret = "" })
	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/email",
		map[string]any{"event": "email_reply", "email": "a@b.co"}, map[string]string{"X-Webhook-Secret": ""})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEmailWebhook_DispatchesEvents(t *testing.T) {
	meeting := testNow.Add(48 * time.Hour)
	tests := []struct {
		event string
		date  *time.Time
		want  string
	}{
		{"email_reply", nil, "respond:%s:email_reply"},
		{"meeting_scheduled", &meeting, "meeting:%s:" + meeting.Format(time.RFC3339)},
		{"meeting_attended", nil, "attended:%s"},
		{"meeting_missed", nil, "missed:%s"},
		{"unsubscribe", nil, "unsubscribe:%s"},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			deps := newTestServer(t)
			l := deps.leads.add("ada@example.com")

			body := map[string]any{"event": tt.event, "email": "ADA@example.com"}
			if tt.date != nil {
				body["meetingDate"] = tt.date
			}
			rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/email", body, hook())

			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			assert.Equal(t, []string{strings.Replace(tt.want, "%s", l.ID.String(), 1)}, deps.engine.calls)
		})
	}
}

func TestEmailWebhook_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown event", map[string]any{"event": "bounce", "email": "ada@example.com"}, http.StatusUnprocessableEntity},
		{"missing email", map[string]any{"event": "email_reply"}, http.StatusUnprocessableEntity},
		{"meeting without date", map[string]any{"event": "meeting_scheduled", "email": "ada@example.com"}, http.StatusUnprocessableEntity},
		{"unknown lead", map[string]any{"event": "email_reply", "email": "nobody@example.com"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestServer(t)
			deps.leads.add("ada@example.com")
			rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/email", tt.body, hook())
			assert.Equal(t, tt.want, rr.Code)
			assert.Empty(t, deps.engine.calls)
		})
	}
}

// ─── STRIPE WEBHOOK ───────────────────────────────────────────────────────────

func checkoutEvent(t *testing.T, email, status, meetingDate string) stripeinternal.Event {
	t.Helper()
	obj := map[string]any{
		"id":               "cs_test_1",
		"payment_status":   status,
		"customer_details": map[string]string{"email": email},
		"metadata":         map[string]string{},
	}
	if meetingDate != "" {
		obj["metadata"] = map[string]string{"meeting_date": meetingDate}
	}
	raw, err := json.Marshal(obj)
	require.NoError(t, err)
	return stripeinternal.Event{ID: "evt_1", Type: stripeinternal.EventCheckoutCompleted, DataRaw: raw}
}

func TestStripeWebhook_InvalidSignatureReturns400(t *testing.T) {
	deps := newTestServer(t)
	deps.stripe.err = errors.New("stripe: webhook verification failed")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/stripe", map[string]string{"id": "evt"}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStripeWebhook_PaidBookingSchedulesMeeting(t *testing.T) {
	deps := newTestServer(t)
	l := deps.leads.add("ada@example.com")
	deps.stripe.event = checkoutEvent(t, "ada@example.com", "paid", "2026-05-14T15:00:00Z")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/stripe", map[string]string{}, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"meeting:" + l.ID.String() + ":2026-05-14T15:00:00Z"}, deps.engine.calls)
}

func TestStripeWebhook_AcksWhatItCannotUse(t *testing.T) {
	tests := []struct {
		name  string
		event func(t *testing.T) stripeinternal.Event
	}{
		{"other event type", func(*testing.T) stripeinternal.Event {
			return stripeinternal.Event{ID: "evt_2", Type: "charge.refunded"}
		}},
		{"unpaid", func(t *testing.T) stripeinternal.Event {
			return checkoutEvent(t, "ada@example.com", "unpaid", "2026-05-14T15:00:00Z")
		}},
		{"no booking metadata", func(t *testing.T) stripeinternal.Event {
			return checkoutEvent(t, "ada@example.com", "paid", "")
		}},
		{"unknown lead", func(t *testing.T) stripeinternal.Event {
			return checkoutEvent(t, "stranger@example.com", "paid", "2026-05-14T15:00:00Z")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestServer(t)
			deps.leads.add("ada@example.com")
			deps.stripe.event = tt.event(t)

			rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/stripe", map[string]string{}, nil)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Empty(t, deps.engine.calls)
		})
	}
}

func TestStripeWebhook_EngineFailureAsksForRetry(t *testing.T) {
	deps := newTestServer(t)
	deps.leads.add("ada@example.com")
	deps.engine.err = errors.New("store down")
	deps.stripe.event = checkoutEvent(t, "ada@example.com", "paid", "2026-05-14T15:00:00Z")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/stripe", map[string]string{}, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

// ─── ADMIN ────────────────────────────────────────────────────────────────────

func TestAdmin_RequiresBearerToken(t *testing.T) {
	deps := newTestServer(t)

	rr := doRequest(t, deps.handler, http.MethodGet, "/api/admin/metrics", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, deps.handler, http.MethodGet, "/api/admin/metrics", nil,
		map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	closed := newTestServer(t, func(c *api.Config) { c.AdminToken = "" })
	rr = doRequest(t, closed.handler, http.MethodGet, "/api/admin/metrics", nil, admin())
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdmin_MetricsAndReset(t *testing.T) {
	deps := newTestServer(t)
	deps.leads.metrics = lead.Metrics{TotalLeads: 12, EmailsSentToday: 3}
	deps.engine.stats = sequencer.Stats{Passes: 2, EmailsSent: 7}

	rr := doRequest(t, deps.handler, http.MethodGet, "/api/admin/metrics", nil, admin())
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Leads     lead.Metrics         `json:"leads"`
		Sequencer sequencer.Stats      `json:"sequencer"`
		Scheduler []scheduler.JobStats `json:"scheduler"`
	}
	decodeJSON(t, rr, &body)
	assert.EqualValues(t, 12, body.Leads.TotalLeads)
	assert.EqualValues(t, 7, body.Sequencer.EmailsSent)
	require.Len(t, body.Scheduler, 1)

	rr = doRequest(t, deps.handler, http.MethodDelete, "/api/admin/metrics", nil, admin())
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 1, deps.engine.resets)
	assert.Equal(t, 1, deps.scheduler.resets)
}

func TestAdmin_SchedulerStartStop(t *testing.T) {
	deps := newTestServer(t)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/admin/scheduler/start", nil, admin())
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, deps.scheduler.running)

	deps.scheduler.startErr = scheduler.ErrAlreadyRunning
	rr = doRequest(t, deps.handler, http.MethodPost, "/api/admin/scheduler/start", nil, admin())
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/admin/scheduler/stop", nil, admin())
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, deps.scheduler.running)
}

func TestAdmin_JobActions(t *testing.T) {
	tests := []struct {
		path   string
		jobErr error
		want   int
	}{
		{"/api/admin/scheduler/jobs/sequence-pass/run", nil, http.StatusAccepted},
		{"/api/admin/scheduler/jobs/sequence-pass/stop", nil, http.StatusOK},
		{"/api/admin/scheduler/jobs/sequence-pass/start", nil, http.StatusOK},
		{"/api/admin/scheduler/jobs/nope/run", scheduler.ErrJobNotFound, http.StatusNotFound},
		{"/api/admin/scheduler/jobs/sequence-pass/run", scheduler.ErrJobRunning, http.StatusConflict},
		{"/api/admin/scheduler/jobs/sequence-pass/start", scheduler.ErrNotRunning, http.StatusConflict},
		{"/api/admin/scheduler/jobs/sequence-pass/run", scheduler.ErrStopping, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			deps := newTestServer(t)
			deps.scheduler.jobErr = tt.jobErr
			rr := doRequest(t, deps.handler, http.MethodPost, tt.path, nil, admin())
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.Len(t, deps.scheduler.calls, 1)
		})
	}
}

func TestAdmin_SchedulerMetrics(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/api/admin/scheduler/metrics", nil, admin())
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), scheduler.JobSequencePass)

	rr = doRequest(t, deps.handler, http.MethodDelete, "/api/admin/scheduler/metrics", nil, admin())
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 1, deps.scheduler.resets)
}

func TestAdmin_GetLead(t *testing.T) {
	deps := newTestServer(t)
	l := deps.leads.add("ada@example.com")
	deps.leads.logs[l.ID] = []lead.EmailLog{{ID: uuid.New(), LeadID: l.ID, SequenceID: "diagnostic_followup", Status: lead.StatusSent}}
	deps.engine.due = []sequencer.DueStep{{SequenceID: "diagnostic_followup", Step: sequence.Step{Day: 2}, ElapsedDays: 3}}

	rr := doRequest(t, deps.handler, http.MethodGet, "/api/admin/leads/"+l.ID.String(), nil, admin())

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Lead   lead.Lead           `json:"lead"`
		State  lead.State          `json:"state"`
		Due    []sequencer.DueStep `json:"due"`
		Emails []lead.EmailLog     `json:"emails"`
	}
	decodeJSON(t, rr, &body)
	assert.Equal(t, l.ID, body.Lead.ID)
	assert.Equal(t, lead.StateActive, body.State)
	assert.Len(t, body.Due, 1)
	assert.Len(t, body.Emails, 1)

	rr = doRequest(t, deps.handler, http.MethodGet, "/api/admin/leads/"+uuid.NewString(), nil, admin())
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdmin_PendingLeads(t *testing.T) {
	deps := newTestServer(t)
	l := deps.leads.add("ada@example.com")
	deps.engine.pending = []sequencer.PendingLead{{Lead: l, Due: []sequencer.DueStep{{SequenceID: "diagnostic_followup"}}}}

	rr := doRequest(t, deps.handler, http.MethodGet, "/api/admin/leads/pending", nil, admin())

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Count int `json:"count"`
	}
	decodeJSON(t, rr, &body)
	assert.Equal(t, 1, body.Count)
}

func TestAdmin_LeadLifecycle(t *testing.T) {
	deps := newTestServer(t)
	id := uuid.New().String()

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/admin/leads/"+id+"/pause", map[string]string{"reason": "vacation"}, admin())
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/admin/leads/"+id+"/pause", nil, admin())
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/admin/leads/"+id+"/resume", nil, admin())
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/admin/leads/"+id+"/respond", map[string]string{"type": "meeting"}, admin())
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/admin/leads/"+id+"/respond", nil, admin())
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, []string{
		"pause:" + id + ":vacation",
		"pause:" + id + ":",
		"resume:" + id,
		"respond:" + id + ":meeting",
		"respond:" + id + ":email_reply",
	}, deps.engine.calls)
}

func TestAdmin_LeadErrors(t *testing.T) {
	deps := newTestServer(t)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/admin/leads/xyz/pause", nil, admin())
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/admin/leads/"+uuid.NewString()+"/respond",
		map[string]string{"type": "carrier_pigeon"}, admin())
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	deps.engine.err = store.ErrLeadNotFound
	rr = doRequest(t, deps.handler, http.MethodPost, "/api/admin/leads/"+uuid.NewString()+"/resume", nil, admin())
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCORS_AllowsConfiguredOrigin(t *testing.T) {
	deps := newTestServer(t, func(c *api.Config) {
		c.Env = "production"
		c.CORSOrigins = []string{"https://quiz.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/diagnostic", nil)
	req.Header.Set("Origin", "https://quiz.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	deps.handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://quiz.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/diagnostic", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr = httptest.NewRecorder()
	deps.handler.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
