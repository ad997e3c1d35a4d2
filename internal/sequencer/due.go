package sequencer

import (
	"time"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/sequence"
)

// DueStep is one step that should be sent now.
type DueStep struct {
	SequenceID  string        `json:"sequenceId"`
	Step        sequence.Step `json:"step"`
	ElapsedDays int           `json:"elapsedDays"`
}

// Key is the idempotency key of the step.
func (d DueStep) Key() lead.StepKey {
	return lead.StepKey{SequenceID: d.SequenceID, Day: d.Step.Day}
}

// applies reports whether a sequence's trigger holds for the lead, and the
// time its day offsets count from.
func applies(s *sequence.Sequence, l *lead.Lead) (time.Time, bool) {
	switch s.Trigger {
	case sequence.TriggerDiagnosticCompleted, sequence.TriggerNoResponse:
		// Any recorded response retires the whole sequence, not single steps.
		return l.DiagnosticDate, !l.HasResponded()
	case sequence.TriggerMeetingMissed:
		if !l.MissedMeeting() {
			return time.Time{}, false
		}
		return *l.MeetingDate, true
	}
	return time.Time{}, false
}

// ApplicableSequences returns the catalog sequences whose trigger currently
// holds for the lead. A paused lead has none.
func (e *Engine) ApplicableSequences(l *lead.Lead) []*sequence.Sequence {
	if l.SequencePaused {
		return nil
	}
	var out []*sequence.Sequence
	for _, s := range e.catalog.All() {
		if _, ok := applies(s, l); ok {
			out = append(out, s)
		}
	}
	return out
}

// DueSteps resolves every step due for the lead at now. Steps come back in
// catalog order, ascending by day within each sequence. It performs no I/O;
// the sent set on the lead is the only history consulted.
func (e *Engine) DueSteps(l *lead.Lead, now time.Time) []DueStep {
	var due []DueStep
	for _, s := range e.ApplicableSequences(l) {
		anchor, _ := applies(s, l)
		elapsed := sequence.ElapsedDays(anchor, now)
		for _, st := range s.Steps {
			key := lead.StepKey{SequenceID: s.ID, Day: st.Day}
			if l.WasSent(key) {
				continue
			}
			if elapsed < st.Day {
				continue
			}
			if st.Eligibility != nil && !st.Eligibility.Eligible(l, now) {
				continue
			}
			due = append(due, DueStep{SequenceID: s.ID, Step: st, ElapsedDays: elapsed})
		}
	}
	return due
}

// LeadState derives the lifecycle state. Completed means every step of every
// applicable sequence has been sent.
func (e *Engine) LeadState(l *lead.Lead) lead.State {
	if l.SequencePaused {
		return lead.StatePaused
	}
	applicable := e.ApplicableSequences(l)
	if len(applicable) > 0 && allSent(applicable, l) {
		return lead.StateCompleted
	}
	if l.HasResponded() {
		return lead.StateResponded
	}
	return lead.StateActive
}

func allSent(seqs []*sequence.Sequence, l *lead.Lead) bool {
	for _, s := range seqs {
		for _, st := range s.Steps {
			if !l.WasSent(lead.StepKey{SequenceID: s.ID, Day: st.Day}) {
				return false
			}
		}
	}
	return true
}
