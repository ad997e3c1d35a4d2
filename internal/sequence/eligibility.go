package sequence

import (
	"fmt"
	"time"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

// EligibilityType is the discriminator of an Eligibility predicate.
type EligibilityType string

const (
	// NotRespondedWithin holds when the lead has never responded, or its
	// last response is at least Days whole days old.
	NotRespondedWithin EligibilityType = "not_responded_within"
)

// Eligibility is a per-step predicate over a lead, kept as data so the
// catalog stays serializable.
//
// YAML shape:
//
//	eligibility:
//	  type: not_responded_within
//	  days: 5
type Eligibility struct {
	Type EligibilityType `yaml:"type" json:"type"`
	Days int             `yaml:"days,omitempty" json:"days,omitempty"`
}

// Validate rejects unknown types and out-of-range parameters.
func (e Eligibility) Validate() error {
	switch e.Type {
	case NotRespondedWithin:
		if e.Days < 0 {
			return fmt.Errorf("eligibility %s: days must be >= 0, got %d", e.Type, e.Days)
		}
		return nil
	default:
		return fmt.Errorf("eligibility: unknown type %q", e.Type)
	}
}

// Eligible evaluates the predicate for l at now. An unknown type is never
// eligible.
func (e Eligibility) Eligible(l *lead.Lead, now time.Time) bool {
	switch e.Type {
	case NotRespondedWithin:
		if !l.HasResponded() {
			return true
		}
		return ElapsedDays(*l.LastResponseAt, now) >= e.Days
	default:
		return false
	}
}

const msPerDay = 24 * 60 * 60 * 1000

// ElapsedDays is the whole number of days from since to now, floored and
// clamped at zero.
func ElapsedDays(since, now time.Time) int {
	ms := now.Sub(since).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int(ms / msPerDay)
}
