// Package intake turns a completed diagnostic submission into a stored lead
// and runs an immediate sequence pass for it.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/consulting-leads-backend/internal/diagnostic"
	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/sequencer"
	"github.com/nyashahama/consulting-leads-backend/internal/store"
)

// Submission is the payload posted by the diagnostic front-end. Score is
// optional; when nil it is computed from the answers.
type Submission struct {
	Email   string            `json:"email"`
	Name    string            `json:"name"`
	Company string            `json:"company"`
	Score   *float64          `json:"score,omitempty"`
	Level   string            `json:"level,omitempty"`
	Answers map[string]string `json:"answers"`
}

// Result describes what one submission did.
type Result struct {
	LeadID       uuid.UUID      `json:"leadId"`
	IsNewLead    bool           `json:"isNewLead"`
	EmailsToSend []lead.StepKey `json:"emailsToSend"`
	Sent         int            `json:"sent"`
	Failed       int            `json:"failed"`
}

// LeadStore is the write the adapter needs.
type LeadStore interface {
	UpsertLead(ctx context.Context, p store.UpsertLeadParams) (store.UpsertResult, error)
}

// Sequencer is the engine surface the adapter drives.
type Sequencer interface {
	DueSteps(l *lead.Lead, now time.Time) []sequencer.DueStep
	ProcessLead(ctx context.Context, l *lead.Lead) (sequencer.LeadResult, error)
}

// Service is the diagnostic intake adapter.
type Service struct {
	store  LeadStore
	engine Sequencer
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the adapter. now may be nil.
func NewService(st LeadStore, engine Sequencer, logger *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, engine: engine, logger: logger, now: now}
}

// Submit validates, derives the diagnostic payload, upserts the lead and
// sends whatever is due right away. A validation failure returns
// ValidationErrors and persists nothing. Sequencing failures are logged but
// never fail the submission.
func (s *Service) Submit(ctx context.Context, sub Submission) (Result, error) {
	if err := Validate(sub); err != nil {
		return Result{}, err
	}

	score := -1.0
	if sub.Score != nil {
		score = *sub.Score
	}
	data, err := diagnostic.Derive(sub.Answers, score, sub.Level)
	if err != nil {
		return Result{}, ValidationErrors{{Field: "level", Message: err.Error()}}
	}

	now := s.now()
	up, err := s.store.UpsertLead(ctx, store.UpsertLeadParams{
		Email:      sub.Email,
		Name:       strings.TrimSpace(sub.Name),
		Company:    strings.TrimSpace(sub.Company),
		Diagnostic: data,
		Now:        now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("intake: upsert lead: %w", err)
	}

	l := up.Lead
	res := Result{LeadID: l.ID, IsNewLead: up.Created, EmailsToSend: []lead.StepKey{}}
	for _, d := range s.engine.DueSteps(l, now) {
		res.EmailsToSend = append(res.EmailsToSend, d.Key())
	}

	log := s.logger.With("lead_id", l.ID, "new", up.Created)
	pass, err := s.engine.ProcessLead(ctx, l)
	if err != nil {
		log.Error("intake: immediate pass failed", "error", err)
	}
	res.Sent, res.Failed = pass.Sent, pass.Failed

	log.Info("intake: diagnostic received", "level", data.Level, "due", len(res.EmailsToSend), "sent", res.Sent)
	return res, nil
}
