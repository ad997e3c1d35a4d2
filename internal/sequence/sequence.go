// Package sequence defines the nurture sequence catalog: named, ordered lists
// of day-offset email steps. Sequences are data, loaded once from YAML and
// read-only afterwards.
package sequence

import (
	"errors"
	"fmt"
	"strings"
)

// Trigger names the event that makes a sequence applicable to a lead.
type Trigger string

const (
	TriggerDiagnosticCompleted Trigger = "diagnostic_completed"
	TriggerNoResponse          Trigger = "no_response"
	TriggerMeetingMissed       Trigger = "meeting_missed"
)

func (t Trigger) valid() bool {
	switch t {
	case TriggerDiagnosticCompleted, TriggerNoResponse, TriggerMeetingMissed:
		return true
	}
	return false
}

// Priority is forwarded to the delivery gateway with each message.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Well-known sequence ids.
const (
	DiagnosticFollowup = "diagnostic_followup"
	MeetingNoShow      = "meeting_noshow"
)

// ErrSequenceNotFound is returned by Catalog.Get for unknown ids.
var ErrSequenceNotFound = errors.New("sequence: not found")

// Sequence is one named nurture track.
type Sequence struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Trigger     Trigger `yaml:"trigger" json:"trigger"`
	Steps       []Step  `yaml:"steps" json:"steps"`
	Source      string  `yaml:"-" json:"source"` // file path or "builtin"
}

// Step is one email within a sequence.
type Step struct {
	Day         int          `yaml:"day" json:"day"`
	Template    string       `yaml:"template" json:"template"`
	Subject     string       `yaml:"subject" json:"subject"`
	Priority    Priority     `yaml:"priority" json:"priority"`
	Eligibility *Eligibility `yaml:"eligibility,omitempty" json:"eligibility,omitempty"`
}

// PersonalizeSubject substitutes ${name} and ${company}. A lead without a
// company reads "your team".
func PersonalizeSubject(subject, name, company string) string {
	company = strings.TrimSpace(company)
	if company == "" {
		company = "your team"
	}
	return strings.NewReplacer(
		"${company}", company,
		"${name}", strings.TrimSpace(name),
	).Replace(subject)
}

func (s *Sequence) validate() error {
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		return fmt.Errorf("sequence id is required")
	}
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		s.Name = s.ID
	}
	if !s.Trigger.valid() {
		return fmt.Errorf("sequence %s: unknown trigger %q", s.ID, s.Trigger)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("sequence %s: steps are required", s.ID)
	}

	seen := make(map[int]struct{}, len(s.Steps))
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Day < 0 {
			return fmt.Errorf("sequence %s step %d: day must be >= 0", s.ID, i+1)
		}
		if _, dup := seen[st.Day]; dup {
			return fmt.Errorf("sequence %s: duplicate day %d", s.ID, st.Day)
		}
		seen[st.Day] = struct{}{}

		st.Template = strings.TrimSpace(st.Template)
		if st.Template == "" {
			return fmt.Errorf("sequence %s day %d: template is required", s.ID, st.Day)
		}
		if strings.TrimSpace(st.Subject) == "" {
			return fmt.Errorf("sequence %s day %d: subject is required", s.ID, st.Day)
		}
		if st.Priority == "" {
			st.Priority = PriorityNormal
		}
		if !st.Priority.valid() {
			return fmt.Errorf("sequence %s day %d: unknown priority %q", s.ID, st.Day, st.Priority)
		}
		if st.Eligibility != nil {
			if err := st.Eligibility.Validate(); err != nil {
				return fmt.Errorf("sequence %s day %d: %w", s.ID, st.Day, err)
			}
		}
	}
	return nil
}
