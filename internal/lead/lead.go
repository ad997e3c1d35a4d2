// Package lead holds the lead record, its send history, and the email log
// types shared by the store, the sequencer, and the HTTP layer. It imports
// nothing from internal/.
package lead

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a lead with respect to sequencing.
type State string

const (
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateResponded State = "responded"
	// StateCompleted is never stored. The sequencer derives it when every
	// step of every applicable sequence has been sent.
	StateCompleted State = "completed"
)

// Pause reasons written by the lifecycle operations.
const (
	PauseUnsubscribed     = "unsubscribed"
	PauseMeetingScheduled = "meeting_scheduled"
	PauseManual           = "manual"
)

// Response types accepted by MarkResponded.
const (
	ResponseEmailReply = "email_reply"
	ResponseMeeting    = "meeting"
)

// ─── DIAGNOSTIC PAYLOAD ──────────────────────────────────────────────────────

// QuickWin is one recommended action derived from the diagnostic answers.
type QuickWin struct {
	Action      string `json:"action"`
	Description string `json:"description"`
}

// EstimatedROI is the headline return estimate shown in the follow-up emails.
type EstimatedROI struct {
	TimeToValueDays   int `json:"timeToValueDays"`
	ExpectedReturnPct int `json:"expectedReturnPct"`
}

// DiagnosticData is the derived quiz result stored on the lead. The
// sequencer never reads it; templates do.
type DiagnosticData struct {
	Score            float64           `json:"score"`
	Level            string            `json:"level"`
	PrimaryChallenge string            `json:"primaryChallenge"`
	QuickWins        []QuickWin        `json:"quickWins"`
	EstimatedROI     EstimatedROI      `json:"estimatedROI"`
	Answers          map[string]string `json:"answers,omitempty"`
}

// ─── LEAD ────────────────────────────────────────────────────────────────────

// Lead is one prospect, identified by email.
type Lead struct {
	ID      uuid.UUID `json:"id"`
	Email   string    `json:"email"`
	Name    string    `json:"name"`
	Company string    `json:"company,omitempty"`

	// DiagnosticDate anchors every diagnostic_followup day offset. It is set
	// when the lead is created and never changes afterwards.
	DiagnosticDate time.Time  `json:"diagnosticDate"`
	LastResponseAt *time.Time `json:"lastResponseAt,omitempty"`

	SequencePaused bool    `json:"sequencePaused"`
	PauseReason    string  `json:"pauseReason,omitempty"`
	EmailsSent     StepSet `json:"emailsSent"`

	MeetingScheduled bool       `json:"meetingScheduled"`
	MeetingAttended  bool       `json:"meetingAttended"`
	MeetingDate      *time.Time `json:"meetingDate,omitempty"`

	Diagnostic DiagnosticData `json:"diagnosticData"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasResponded reports whether the lead has ever replied.
func (l *Lead) HasResponded() bool {
	return l.LastResponseAt != nil && !l.LastResponseAt.IsZero()
}

// MissedMeeting reports whether the lead booked a meeting that has a date
// but was not attended.
func (l *Lead) MissedMeeting() bool {
	return l.MeetingScheduled && !l.MeetingAttended && l.MeetingDate != nil
}

// WasSent reports whether the step identified by key is in the sent set.
func (l *Lead) WasSent(key StepKey) bool {
	return l.EmailsSent.Has(key)
}

// MarkSent records key in the in-memory sent set.
func (l *Lead) MarkSent(key StepKey) {
	if l.EmailsSent == nil {
		l.EmailsSent = NewStepSet()
	}
	l.EmailsSent.Add(key)
}

// BaseState derives the stored part of the lifecycle state. Completion
// depends on the sequence catalog and is computed by the sequencer.
func (l *Lead) BaseState() State {
	switch {
	case l.SequencePaused:
		return StatePaused
	case l.HasResponded():
		return StateResponded
	default:
		return StateActive
	}
}

// ─── EMAIL LOG ───────────────────────────────────────────────────────────────

// EmailStatus is the outcome recorded on an EmailLog entry.
type EmailStatus string

const (
	StatusSent    EmailStatus = "sent"
	StatusFailed  EmailStatus = "failed"
	StatusPending EmailStatus = "pending"
)

// Valid reports whether s is one of the known statuses.
func (s EmailStatus) Valid() bool {
	switch s {
	case StatusSent, StatusFailed, StatusPending:
		return true
	}
	return false
}

// EmailLog is one append-only audit entry for a send attempt.
type EmailLog struct {
	ID           uuid.UUID   `json:"id"`
	LeadID       uuid.UUID   `json:"leadId"`
	SequenceID   string      `json:"sequenceId"`
	TemplateName string      `json:"templateName"`
	SequenceDay  int         `json:"sequenceDay"`
	Subject      string      `json:"subject"`
	Status       EmailStatus `json:"status"`
	Error        string      `json:"error,omitempty"`
	SentAt       time.Time   `json:"sentAt"`
}

// Key returns the idempotency key the entry refers to.
func (e EmailLog) Key() StepKey {
	return StepKey{SequenceID: e.SequenceID, Day: e.SequenceDay}
}

// Metrics is the store-level summary used by the admin API and the daily
// digest.
type Metrics struct {
	TotalLeads      int64 `json:"totalLeads"`
	EmailsSentToday int64 `json:"emailsSentToday"`
	EmailsSentWeek  int64 `json:"emailsSentWeek"`
	EmailsSentMonth int64 `json:"emailsSentMonth"`
	ActiveSequences int64 `json:"activeSequences"`
	PausedSequences int64 `json:"pausedSequences"`
}
