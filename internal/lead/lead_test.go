package lead_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

func TestParseStepKey_RoundTrip(t *testing.T) {
	tests := []lead.StepKey{
		{SequenceID: "diagnostic_followup", Day: 0},
		{SequenceID: "diagnostic_followup", Day: 30},
		{SequenceID: "meeting_noshow", Day: 0},
		{SequenceID: "odd:day:name", Day: 7},
	}
	for _, want := range tests {
		t.Run(want.String(), func(t *testing.T) {
			got, err := lead.ParseStepKey(want.String())
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseStepKey_Malformed(t *testing.T) {
	for _, s := range []string{"", "diagnostic_followup", ":day:3", "seq:day:", "seq:day:x", "seq:day:-1"} {
		_, err := lead.ParseStepKey(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestStepSet_NilSafeHas(t *testing.T) {
	var s lead.StepSet
	assert.False(t, s.Has(lead.StepKey{SequenceID: "x", Day: 0}))
	assert.Equal(t, 0, s.Len())
}

func TestStepSet_KeysOrdered(t *testing.T) {
	s := lead.NewStepSet(
		lead.StepKey{SequenceID: "meeting_noshow", Day: 0},
		lead.StepKey{SequenceID: "diagnostic_followup", Day: 10},
		lead.StepKey{SequenceID: "diagnostic_followup", Day: 2},
	)
	assert.Equal(t, []lead.StepKey{
		{SequenceID: "diagnostic_followup", Day: 2},
		{SequenceID: "diagnostic_followup", Day: 10},
		{SequenceID: "meeting_noshow", Day: 0},
	}, s.Keys())
}

func TestStepSet_JSON(t *testing.T) {
	s := lead.NewStepSet(
		lead.StepKey{SequenceID: "diagnostic_followup", Day: 5},
		lead.StepKey{SequenceID: "diagnostic_followup", Day: 0},
	)
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["diagnostic_followup:day:0","diagnostic_followup:day:5"]`, string(raw))

	var back lead.StepSet
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.Has(lead.StepKey{SequenceID: "diagnostic_followup", Day: 5}))
	assert.Equal(t, 2, back.Len())
}

func TestLead_MarkSentInitialisesSet(t *testing.T) {
	l := &lead.Lead{}
	key := lead.StepKey{SequenceID: "diagnostic_followup", Day: 0}
	l.MarkSent(key)
	assert.True(t, l.WasSent(key))
}

func TestLead_BaseState(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		lead lead.Lead
		want lead.State
	}{
		{"fresh", lead.Lead{}, lead.StateActive},
		{"responded", lead.Lead{LastResponseAt: &now}, lead.StateResponded},
		{"paused wins over responded", lead.Lead{LastResponseAt: &now, SequencePaused: true}, lead.StatePaused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.lead.BaseState())
		})
	}
}

func TestLead_MissedMeeting(t *testing.T) {
	date := time.Now().Add(-24 * time.Hour)
	assert.True(t, (&lead.Lead{MeetingScheduled: true, MeetingDate: &date}).MissedMeeting())
	assert.False(t, (&lead.Lead{MeetingScheduled: true}).MissedMeeting())
	assert.False(t, (&lead.Lead{MeetingScheduled: true, MeetingAttended: true, MeetingDate: &date}).MissedMeeting())
	assert.False(t, (&lead.Lead{MeetingDate: &date}).MissedMeeting())
}
