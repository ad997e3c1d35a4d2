package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/consulting-leads-backend/internal/app"
	"github.com/nyashahama/consulting-leads-backend/internal/cli"
	"github.com/nyashahama/consulting-leads-backend/internal/config"
	"github.com/nyashahama/consulting-leads-backend/internal/intake"
	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/sequencer"
)

type fixture struct {
	app      *app.App
	leadID   string
	loads    int
	released int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Env:         "development",
		BaseURL:     "http://localhost:8080",
		StoreDriver: config.StoreSQLite,
		SQLitePath:  filepath.Join(t.TempDir(), "leads.db"),
		MailDriver:  config.MailLog,
	}
	a, err := app.Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	res, err := a.Intake.Submit(context.Background(), intake.Submission{
		Email:   "ada@example.com",
		Name:    "Ada Lovelace",
		Company: "Analytical Engines",
		Answers: map[string]string{"primary_challenge": "manual_processes"},
	})
	require.NoError(t, err)
	return &fixture{app: a, leadID: res.LeadID.String()}
}

func (f *fixture) load(context.Context) (*cli.Env, func() error, error) {
	f.loads++
	return &cli.Env{Engine: f.app.Engine, Store: f.app.Store, Gateway: f.app.Gateway},
		func() error { f.released++; return nil }, nil
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := cli.Execute(context.Background(), f.load, args, &out)
	return out.String(), err
}

func TestCatalogListsBuiltinSequences(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "catalog")
	require.NoError(t, err)
	assert.Contains(t, out, "diagnostic_followup")
	assert.Contains(t, out, "TRIGGER")
	assert.Equal(t, 1, f.loads)
	assert.Equal(t, 1, f.released)
}

func TestDue_NothingAfterIntakeSentDayZero(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "due", "ada@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing due for ada@example.com")
}

func TestLeadsShow_ByEmailAndID(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "leads", "show", "ADA@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada Lovelace <ada@example.com>")
	assert.Contains(t, out, "diagnostic_followup")
	assert.Contains(t, out, string(lead.StatusSent))

	out, err = f.run(t, "--json", "leads", "show", f.leadID)
	require.NoError(t, err)
	var body struct {
		Lead  lead.Lead  `json:"lead"`
		State lead.State `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, lead.StateActive, body.State)
	assert.Equal(t, 1, body.Lead.EmailsSent.Len())
}

func TestLeadsPauseResumeRespond(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.run(t, "leads", "pause", "ada@example.com", "--reason", "vacation")
	require.NoError(t, err)
	l, err := f.app.Store.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, l.SequencePaused)
	assert.Equal(t, "vacation", l.PauseReason)

	_, err = f.run(t, "leads", "resume", "ada@example.com")
	require.NoError(t, err)
	l, err = f.app.Store.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, l.SequencePaused)

	_, err = f.run(t, "leads", "respond", f.leadID)
	require.NoError(t, err)
	l, err = f.app.Store.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, l.HasResponded())

	_, err = f.run(t, "leads", "respond", f.leadID, "--type", "carrier_pigeon")
	assert.Error(t, err)
}

func TestLeadRefValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "leads", "show", "not-a-ref")
	assert.ErrorContains(t, err, "neither a lead id nor an email")

	_, err = f.run(t, "leads", "show", "nobody@example.com")
	assert.Error(t, err)
}

func TestRunAndMetrics(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "--json", "run")
	require.NoError(t, err)
	var sum sequencer.PassSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 0, sum.Sent)

	out, err = f.run(t, "--json", "metrics")
	require.NoError(t, err)
	var m lead.Metrics
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.EqualValues(t, 1, m.TotalLeads)
	assert.EqualValues(t, 1, m.EmailsSentToday)
}

func TestLeadsPendingEmpty(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "leads", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "no leads due")
}

func TestGatewayTest(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "gateway", "test")
	require.NoError(t, err)
	assert.Contains(t, out, "gateway ok")
}

func TestLoaderErrorSurfaces(t *testing.T) {
	boom := errors.New("config: DATABASE_URL is required")
	load := func(context.Context) (*cli.Env, func() error, error) { return nil, nil, boom }

	err := cli.Execute(context.Background(), load, []string{"metrics"}, io.Discard)
	assert.ErrorIs(t, err, boom)
}

func TestHelpDoesNotLoad(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "--help")
	require.NoError(t, err)
	assert.Zero(t, f.loads)
}
