package sequencer_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/consulting-leads-backend/internal/email"
	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/notify"
	"github.com/nyashahama/consulting-leads-backend/internal/sequence"
	"github.com/nyashahama/consulting-leads-backend/internal/sequencer"
	"github.com/nyashahama/consulting-leads-backend/internal/store"
	"github.com/nyashahama/consulting-leads-backend/internal/store/sqlite"
	"github.com/nyashahama/consulting-leads-backend/internal/templates"
)

const day = 24 * time.Hour

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ─── Mock gateway ─────────────────────────────────────────────────────────────

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Send(ctx context.Context, msg email.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockGateway) TestConnection(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// campaign matches a message sent for the given sequence.
func campaign(seq string) any {
	return mock.MatchedBy(func(m email.Message) bool { return m.Campaign == seq })
}

// ─── Recording notifier ───────────────────────────────────────────────────────

type recordingNotifier struct {
	mu        sync.Mutex
	summaries []notify.Summary
	alerts    []notify.Alert
}

func (n *recordingNotifier) PassSummary(_ context.Context, s notify.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
	return nil
}

func (n *recordingNotifier) CriticalAlert(_ context.Context, a notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) Digest(context.Context, lead.Metrics) error { return nil }

// ─── Fixture ──────────────────────────────────────────────────────────────────

type fixture struct {
	engine   *sequencer.Engine
	store    *sqlite.Store
	gateway  *mockGateway
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "leads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{store: st, gateway: &mockGateway{}, notifier: &recordingNotifier{}, now: testNow}
	f.engine = newEngine(t, st, f.gateway, f.notifier, func() time.Time { return f.now })
	return f
}

func newEngine(t *testing.T, st sequencer.LeadStore, gw email.Gateway, n notify.Notifier, now func() time.Time) *sequencer.Engine {
	t.Helper()
	cat, err := sequence.LoadBuiltin()
	require.NoError(t, err)
	res, err := templates.New()
	require.NoError(t, err)

	e, err := sequencer.New(sequencer.Deps{
		Store:     st,
		Gateway:   gw,
		Catalog:   cat,
		Templates: res,
		Notifier:  n,
		Logger:    discardLogger(),
		Now:       now,
	}, sequencer.Config{
		BaseURL:    "https://leads.example.com/",
		BookingURL: "https://cal.example.com/strategy",
	})
	require.NoError(t, err)
	return e
}

// addLead stores a lead whose diagnostic was completed age ago.
func (f *fixture) addLead(t *testing.T, email string, age time.Duration) *lead.Lead {
	t.Helper()
	res, err := f.store.UpsertLead(context.Background(), store.UpsertLeadParams{
		Email:   email,
		Name:    "Ana Souza",
		Company: "Acme",
		Now:     f.now.Add(-age),
	})
	require.NoError(t, err)
	return res.Lead
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *lead.Lead {
	t.Helper()
	l, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return l
}

func (f *fixture) logs(t *testing.T, id uuid.UUID) []lead.EmailLog {
	t.Helper()
	logs, err := f.store.ListEmailLogs(context.Background(), id)
	require.NoError(t, err)
	return logs
}

func keys(due []sequencer.DueStep) []lead.StepKey {
	out := make([]lead.StepKey, len(due))
	for i, d := range due {
		out[i] = d.Key()
	}
	return out
}

func key(seq string, d int) lead.StepKey {
	return lead.StepKey{SequenceID: seq, Day: d}
}
