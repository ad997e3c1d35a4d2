package sequencer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

// PauseLead stops sequencing for the lead. Pausing a paused lead succeeds.
// An empty reason is recorded as manual.
func (e *Engine) PauseLead(ctx context.Context, id uuid.UUID, reason string) error {
	if reason == "" {
		reason = lead.PauseManual
	}
	if err := e.store.Pause(ctx, id, reason); err != nil {
		return fmt.Errorf("sequencer: pause: %w", err)
	}
	e.logger.Info("lead paused", "lead_id", id, "reason", reason)
	return nil
}

// ResumeLead clears the pause. Resuming an active lead succeeds.
func (e *Engine) ResumeLead(ctx context.Context, id uuid.UUID) error {
	if err := e.store.Resume(ctx, id); err != nil {
		return fmt.Errorf("sequencer: resume: %w", err)
	}
	e.logger.Info("lead resumed", "lead_id", id)
	return nil
}

// MarkResponded records a response. diagnostic_followup stops applying from
// the next pass on. A meeting response also counts as a booked meeting.
func (e *Engine) MarkResponded(ctx context.Context, id uuid.UUID, responseType string) error {
	if err := e.store.MarkResponded(ctx, id, e.now()); err != nil {
		return fmt.Errorf("sequencer: mark responded: %w", err)
	}
	if responseType == lead.ResponseMeeting {
		e.stats.meetingScheduled()
	}
	e.logger.Info("lead responded", "lead_id", id, "type", responseType)
	return nil
}

// Unsubscribe pauses the lead whatever its state.
func (e *Engine) Unsubscribe(ctx context.Context, id uuid.UUID) error {
	return e.PauseLead(ctx, id, lead.PauseUnsubscribed)
}

// MeetingScheduled records a booked meeting and pauses the lead until the
// meeting outcome is known. The booking is not a response: when the meeting
// is missed and the lead resumed, diagnostic_followup still applies
// alongside meeting_noshow.
func (e *Engine) MeetingScheduled(ctx context.Context, id uuid.UUID, date time.Time) error {
	if err := e.store.SetMeeting(ctx, id, date); err != nil {
		return fmt.Errorf("sequencer: meeting scheduled: %w", err)
	}
	e.stats.meetingScheduled()
	return e.PauseLead(ctx, id, lead.PauseMeetingScheduled)
}

// MeetingMissed records a no-show. A lead paused only for the meeting is
// resumed so meeting_noshow becomes due; any other pause is kept.
func (e *Engine) MeetingMissed(ctx context.Context, id uuid.UUID) error {
	l, err := e.store.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("sequencer: meeting missed: %w", err)
	}
	if err := e.store.MarkMeetingAttended(ctx, id, false); err != nil {
		return fmt.Errorf("sequencer: meeting missed: %w", err)
	}
	if l.SequencePaused && l.PauseReason == lead.PauseMeetingScheduled {
		return e.ResumeLead(ctx, id)
	}
	return nil
}

// MeetingAttended marks the meeting as held. meeting_noshow stops applying.
func (e *Engine) MeetingAttended(ctx context.Context, id uuid.UUID) error {
	if err := e.store.MarkMeetingAttended(ctx, id, true); err != nil {
		return fmt.Errorf("sequencer: meeting attended: %w", err)
	}
	e.logger.Info("meeting attended", "lead_id", id)
	return nil
}
