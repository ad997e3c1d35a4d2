package sequencer_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/sequence"
	"github.com/nyashahama/consulting-leads-backend/internal/store"
)

func TestPauseResume_Idempotent(t *testing.T) {
	f := newFixture(t)
	l := f.addLead(t, "ana@acme.test", 0)
	ctx := context.Background()

	require.NoError(t, f.engine.ResumeLead(ctx, l.ID))
	require.NoError(t, f.engine.PauseLead(ctx, l.ID, ""))
	require.NoError(t, f.engine.PauseLead(ctx, l.ID, ""))

	got := f.reload(t, l.ID)
	assert.True(t, got.SequencePaused)
	assert.Equal(t, lead.PauseManual, got.PauseReason)

	require.NoError(t, f.engine.ResumeLead(ctx, l.ID))
	require.NoError(t, f.engine.ResumeLead(ctx, l.ID))
	got = f.reload(t, l.ID)
	assert.False(t, got.SequencePaused)
	assert.Empty(t, got.PauseReason)
}

func TestLifecycle_UnknownLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.New()

	assert.ErrorIs(t, f.engine.PauseLead(ctx, id, ""), store.ErrLeadNotFound)
	assert.ErrorIs(t, f.engine.ResumeLead(ctx, id), store.ErrLeadNotFound)
	assert.ErrorIs(t, f.engine.MarkResponded(ctx, id, lead.ResponseEmailReply), store.ErrLeadNotFound)
	assert.ErrorIs(t, f.engine.MeetingMissed(ctx, id), store.ErrLeadNotFound)
}

func TestUnsubscribe_PausesWhateverTheState(t *testing.T) {
	f := newFixture(t)
	l := f.addLead(t, "ana@acme.test", 0)
	ctx := context.Background()
	require.NoError(t, f.engine.PauseLead(ctx, l.ID, lead.PauseManual))

	require.NoError(t, f.engine.Unsubscribe(ctx, l.ID))
	assert.Equal(t, lead.PauseUnsubscribed, f.reload(t, l.ID).PauseReason)
}

func TestMarkResponded_StopsFollowup(t *testing.T) {
	f := newFixture(t)
	l := f.addLead(t, "ana@acme.test", 3*day)
	ctx := context.Background()

	require.NoError(t, f.engine.MarkResponded(ctx, l.ID, lead.ResponseEmailReply))
	assert.Empty(t, f.engine.DueSteps(f.reload(t, l.ID), f.now))
	assert.Zero(t, f.engine.Stats().MeetingsScheduled)

	require.NoError(t, f.engine.MarkResponded(ctx, l.ID, lead.ResponseMeeting))
	assert.Equal(t, int64(1), f.engine.Stats().MeetingsScheduled)
}

func TestMeeting_ScheduledThenMissedSendsNoShow(t *testing.T) {
	f := newFixture(t)
	l := f.addLead(t, "ana@acme.test", 3*day)
	ctx := context.Background()
	require.NoError(t, f.store.MarkSent(ctx, l.ID, key(sequence.DiagnosticFollowup, 0),
		lead.EmailLog{TemplateName: "diagnostic_day0", Subject: "s", SentAt: f.now.Add(-3 * day)}))

	require.NoError(t, f.engine.MeetingScheduled(ctx, l.ID, f.now.Add(-day)))
	got := f.reload(t, l.ID)
	assert.True(t, got.SequencePaused)
	assert.Equal(t, lead.PauseMeetingScheduled, got.PauseReason)
	assert.False(t, got.HasResponded(), "a booking is not a response")
	assert.Empty(t, f.engine.DueSteps(got, f.now))
	assert.Equal(t, int64(1), f.engine.Stats().MeetingsScheduled)

	require.NoError(t, f.engine.MeetingMissed(ctx, l.ID))
	got = f.reload(t, l.ID)
	assert.False(t, got.SequencePaused)
	assert.ElementsMatch(t, []lead.StepKey{
		key(sequence.DiagnosticFollowup, 2),
		key(sequence.MeetingNoShow, 0),
	}, keys(f.engine.DueSteps(got, f.now)))

	f.gateway.On("Send", mock.Anything, campaign(sequence.DiagnosticFollowup)).Return(nil).Once()
	f.gateway.On("Send", mock.Anything, campaign(sequence.MeetingNoShow)).Return(nil).Once()
	sum, err := f.engine.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Sent)
	f.gateway.AssertExpectations(t)
}

func TestMeetingMissed_KeepsUnsubscribe(t *testing.T) {
	f := newFixture(t)
	l := f.addLead(t, "ana@acme.test", 0)
	ctx := context.Background()

	require.NoError(t, f.engine.MeetingScheduled(ctx, l.ID, f.now.Add(-day)))
	require.NoError(t, f.engine.Unsubscribe(ctx, l.ID))
	require.NoError(t, f.engine.MeetingMissed(ctx, l.ID))

	got := f.reload(t, l.ID)
	assert.True(t, got.SequencePaused)
	assert.Equal(t, lead.PauseUnsubscribed, got.PauseReason)
}

func TestMeetingAttended_StopsNoShow(t *testing.T) {
	f := newFixture(t)
	l := f.addLead(t, "ana@acme.test", 0)
	ctx := context.Background()

	require.NoError(t, f.engine.MeetingScheduled(ctx, l.ID, f.now.Add(-day)))
	require.NoError(t, f.engine.MeetingAttended(ctx, l.ID))
	require.NoError(t, f.engine.ResumeLead(ctx, l.ID))
	assert.Equal(t, []lead.StepKey{key(sequence.DiagnosticFollowup, 0)},
		keys(f.engine.DueSteps(f.reload(t, l.ID), f.now)))
}

func TestResetStats(t *testing.T) {
	f := newFixture(t)
	f.addLead(t, "ana@acme.test", 0)
	f.gateway.On("Send", mock.Anything, mock.Anything).Return(nil)

	_, err := f.engine.ProcessAll(context.Background())
	require.NoError(t, err)
	st := f.engine.Stats()
	assert.Equal(t, int64(1), st.Passes)
	assert.Equal(t, int64(1), st.EmailsSent)
	assert.Equal(t, int64(1), st.LeadsProcessed)
	assert.Equal(t, testNow, st.LastPassAt)

	f.engine.ResetStats()
	assert.Equal(t, int64(0), f.engine.Stats().EmailsSent)
}
