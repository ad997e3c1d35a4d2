// Package storetest is the behavioural contract every lead store
// implementation must satisfy. Implementations call Run from their own
// tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/store"
)

// Store is the full lead store surface.
type Store interface {
	Ping(ctx context.Context) error
	FindByEmail(ctx context.Context, email string) (*lead.Lead, error)
	FindByID(ctx context.Context, id uuid.UUID) (*lead.Lead, error)
	UpsertLead(ctx context.Context, p store.UpsertLeadParams) (store.UpsertResult, error)
	WasSent(ctx context.Context, leadID uuid.UUID, key lead.StepKey) (bool, error)
	MarkSent(ctx context.Context, leadID uuid.UUID, key lead.StepKey, entry lead.EmailLog) error
	LogEmail(ctx context.Context, entry lead.EmailLog) error
	ListEmailLogs(ctx context.Context, leadID uuid.UUID) ([]lead.EmailLog, error)
	Pause(ctx context.Context, id uuid.UUID, reason string) error
	Resume(ctx context.Context, id uuid.UUID) error
	MarkResponded(ctx context.Context, id uuid.UUID, at time.Time) error
	SetMeeting(ctx context.Context, id uuid.UUID, date time.Time) error
	MarkMeetingAttended(ctx context.Context, id uuid.UUID, attended bool) error
	GetPendingLeads(ctx context.Context, steps []lead.StepKey) ([]*lead.Lead, error)
	GetMetrics(ctx context.Context, now time.Time) (lead.Metrics, error)
}

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) Store

var day0 = lead.StepKey{SequenceID: "diagnostic_followup", Day: 0}

// Run executes the contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"Ping", testPing},
		{"UpsertCreatesThenPreservesIdentity", testUpsertPreservesIdentity},
		{"FindUnknown", testFindUnknown},
		{"MarkSentIsAtMostOnce", testMarkSentAtMostOnce},
		{"FailedLogDoesNotMarkSent", testFailedLogDoesNotMarkSent},
		{"PauseResumeIdempotent", testPauseResumeIdempotent},
		{"UnknownLeadWrites", testUnknownLeadWrites},
		{"MarkResponded", testMarkResponded},
		{"Meeting", testMeeting},
		{"GetPendingLeads", testGetPendingLeads},
		{"GetMetrics", testGetMetrics},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func seed(t *testing.T, s Store, email string, now time.Time) *lead.Lead {
	t.Helper()
	res, err := s.UpsertLead(context.Background(), store.UpsertLeadParams{
		Email:   email,
		Name:    "Ana Souza",
		Company: "Acme",
		Diagnostic: lead.DiagnosticData{
			Score: 62, Level: "developing", PrimaryChallenge: "manual reporting",
			QuickWins: []lead.QuickWin{{Action: "a", Description: "d"}},
		},
		Now: now,
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.Lead
}

func testPing(t *testing.T, s Store) {
	assert.NoError(t, s.Ping(context.Background()))
}

func testUpsertPreservesIdentity(t *testing.T, s Store) {
	ctx := context.Background()
	first := time.Now().Add(-72 * time.Hour).UTC()
	l := seed(t, s, "  Ana@Acme.test ", first)
	assert.Equal(t, "ana@acme.test", l.Email)
	assert.WithinDuration(t, first, l.DiagnosticDate, time.Millisecond)
	assert.Equal(t, 0, l.EmailsSent.Len())

	require.NoError(t, s.MarkSent(ctx, l.ID, day0, lead.EmailLog{TemplateName: "diagnostic_day0", Subject: "s"}))

	res, err := s.UpsertLead(ctx, store.UpsertLeadParams{
		Email:      "ana@acme.test",
		Name:       "Ana S.",
		Company:    "Acme Group",
		Diagnostic: lead.DiagnosticData{Score: 80, Level: "advanced"},
		Now:        time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, l.ID, res.Lead.ID)
	assert.WithinDuration(t, first, res.Lead.DiagnosticDate, time.Millisecond)
	assert.Equal(t, "Ana S.", res.Lead.Name)
	assert.Equal(t, "Acme Group", res.Lead.Company)
	assert.Equal(t, "advanced", res.Lead.Diagnostic.Level)
	assert.True(t, res.Lead.WasSent(day0), "sent set survives resubmission")

	got, err := s.FindByEmail(ctx, "ANA@acme.test")
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)
	assert.Equal(t, float64(80), got.Diagnostic.Score)
}

func testFindUnknown(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.FindByEmail(ctx, "nobody@example.test")
	assert.True(t, errors.Is(err, store.ErrLeadNotFound))
	_, err = s.FindByID(ctx, uuid.New())
	assert.True(t, errors.Is(err, store.ErrLeadNotFound))
}

func testMarkSentAtMostOnce(t *testing.T, s Store) {
	ctx := context.Background()
	l := seed(t, s, "once@acme.test", time.Now())

	sent, err := s.WasSent(ctx, l.ID, day0)
	require.NoError(t, err)
	assert.False(t, sent)

	entry := lead.EmailLog{TemplateName: "diagnostic_day0", Subject: "hello"}
	require.NoError(t, s.MarkSent(ctx, l.ID, day0, entry))
	err = s.MarkSent(ctx, l.ID, day0, entry)
	assert.True(t, errors.Is(err, store.ErrAlreadySent))

	sent, err = s.WasSent(ctx, l.ID, day0)
	require.NoError(t, err)
	assert.True(t, sent)

	logs, err := s.ListEmailLogs(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1, "duplicate MarkSent must not append a log")
	assert.Equal(t, lead.StatusSent, logs[0].Status)
	assert.Equal(t, "diagnostic_followup", logs[0].SequenceID)
	assert.Equal(t, 0, logs[0].SequenceDay)
	assert.Equal(t, "hello", logs[0].Subject)

	got, err := s.FindByID(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, got.WasSent(day0))
}

func testFailedLogDoesNotMarkSent(t *testing.T, s Store) {
	ctx := context.Background()
	l := seed(t, s, "fail@acme.test", time.Now())

	require.NoError(t, s.LogEmail(ctx, lead.EmailLog{
		LeadID: l.ID, SequenceID: day0.SequenceID, SequenceDay: day0.Day,
		TemplateName: "diagnostic_day0", Subject: "s",
		Status: lead.StatusFailed, Error: "smtp 421",
	}))

	sent, err := s.WasSent(ctx, l.ID, day0)
	require.NoError(t, err)
	assert.False(t, sent)

	logs, err := s.ListEmailLogs(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, lead.StatusFailed, logs[0].Status)
	assert.Equal(t, "smtp 421", logs[0].Error)

	assert.Error(t, s.LogEmail(ctx, lead.EmailLog{LeadID: l.ID, Status: "bounced"}))
}

func testPauseResumeIdempotent(t *testing.T, s Store) {
	ctx := context.Background()
	l := seed(t, s, "pause@acme.test", time.Now())

	require.NoError(t, s.Pause(ctx, l.ID, lead.PauseManual))
	require.NoError(t, s.Pause(ctx, l.ID, lead.PauseManual))
	got, err := s.FindByID(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, got.SequencePaused)
	assert.Equal(t, lead.PauseManual, got.PauseReason)

	require.NoError(t, s.Resume(ctx, l.ID))
	require.NoError(t, s.Resume(ctx, l.ID))
	got, err = s.FindByID(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, got.SequencePaused)
	assert.Empty(t, got.PauseReason)
}

func testUnknownLeadWrites(t *testing.T, s Store) {
	ctx := context.Background()
	id := uuid.New()
	assert.True(t, errors.Is(s.Pause(ctx, id, lead.PauseManual), store.ErrLeadNotFound))
	assert.True(t, errors.Is(s.Resume(ctx, id), store.ErrLeadNotFound))
	assert.True(t, errors.Is(s.MarkResponded(ctx, id, time.Now()), store.ErrLeadNotFound))
	assert.True(t, errors.Is(s.SetMeeting(ctx, id, time.Now()), store.ErrLeadNotFound))
}

func testMarkResponded(t *testing.T, s Store) {
	ctx := context.Background()
	l := seed(t, s, "reply@acme.test", time.Now())
	at := time.Now().Add(-time.Hour).UTC()

	require.NoError(t, s.MarkResponded(ctx, l.ID, at))
	got, err := s.FindByID(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastResponseAt)
	assert.WithinDuration(t, at, *got.LastResponseAt, time.Millisecond)
	assert.Equal(t, lead.StateResponded, got.BaseState())
}

func testMeeting(t *testing.T, s Store) {
	ctx := context.Background()
	l := seed(t, s, "meet@acme.test", time.Now())
	date := time.Now().Add(-24 * time.Hour).UTC()

	require.NoError(t, s.SetMeeting(ctx, l.ID, date))
	got, err := s.FindByID(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, got.MissedMeeting())
	require.NotNil(t, got.MeetingDate)
	assert.WithinDuration(t, date, *got.MeetingDate, time.Millisecond)

	require.NoError(t, s.MarkMeetingAttended(ctx, l.ID, true))
	got, err = s.FindByID(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, got.MissedMeeting())
}

var catalogSteps = []lead.StepKey{
	day0,
	{SequenceID: "diagnostic_followup", Day: 2},
	{SequenceID: "meeting_noshow", Day: 0},
}

func testGetPendingLeads(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := seed(t, s, "fresh@acme.test", now.Add(-3*24*time.Hour))
	require.NoError(t, s.MarkSent(ctx, fresh.ID, day0, lead.EmailLog{TemplateName: "t", Subject: "s"}))

	paused := seed(t, s, "paused@acme.test", now)
	require.NoError(t, s.Pause(ctx, paused.ID, lead.PauseUnsubscribed))

	// Old leads with unsent steps stay pending; age is not a filter.
	old := seed(t, s, "old@acme.test", now.Add(-90*24*time.Hour))

	done := seed(t, s, "done@acme.test", now.Add(-90*24*time.Hour))
	for _, k := range catalogSteps {
		require.NoError(t, s.MarkSent(ctx, done.ID, k, lead.EmailLog{TemplateName: "t", Subject: "s"}))
	}

	replied := seed(t, s, "replied@acme.test", now.Add(-3*24*time.Hour))
	require.NoError(t, s.MarkResponded(ctx, replied.ID, now))

	noshow := seed(t, s, "noshow@acme.test", now.Add(-90*24*time.Hour))
	require.NoError(t, s.MarkResponded(ctx, noshow.ID, now.Add(-2*24*time.Hour)))
	require.NoError(t, s.SetMeeting(ctx, noshow.ID, now.Add(-24*time.Hour)))

	leads, err := s.GetPendingLeads(ctx, catalogSteps)
	require.NoError(t, err)

	byID := make(map[uuid.UUID]*lead.Lead)
	for _, l := range leads {
		byID[l.ID] = l
	}
	assert.Contains(t, byID, fresh.ID)
	assert.Contains(t, byID, old.ID)
	assert.Contains(t, byID, noshow.ID)
	assert.NotContains(t, byID, paused.ID)
	assert.NotContains(t, byID, done.ID)
	assert.NotContains(t, byID, replied.ID)
	assert.True(t, byID[fresh.ID].WasSent(day0), "pending leads carry their sent set")

	none, err := s.GetPendingLeads(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testGetMetrics(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	a := seed(t, s, "m1@acme.test", now)
	b := seed(t, s, "m2@acme.test", now)
	seed(t, s, "m3@acme.test", now)
	require.NoError(t, s.Pause(ctx, b.ID, lead.PauseManual))

	require.NoError(t, s.MarkSent(ctx, a.ID, day0, lead.EmailLog{TemplateName: "t", Subject: "s", SentAt: now}))
	require.NoError(t, s.MarkSent(ctx, a.ID, lead.StepKey{SequenceID: "diagnostic_followup", Day: 2},
		lead.EmailLog{TemplateName: "t", Subject: "s", SentAt: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, s.LogEmail(ctx, lead.EmailLog{
		LeadID: a.ID, SequenceID: "diagnostic_followup", SequenceDay: 5,
		TemplateName: "t", Subject: "s", Status: lead.StatusFailed, SentAt: now,
	}))

	m, err := s.GetMetrics(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.TotalLeads)
	assert.Equal(t, int64(1), m.EmailsSentToday)
	assert.Equal(t, int64(1), m.EmailsSentWeek)
	assert.Equal(t, int64(2), m.EmailsSentMonth)
	assert.Equal(t, int64(2), m.ActiveSequences)
	assert.Equal(t, int64(1), m.PausedSequences)
}
