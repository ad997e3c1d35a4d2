package sequencer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/consulting-leads-backend/internal/email"
	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/notify"
	"github.com/nyashahama/consulting-leads-backend/internal/sequence"
	"github.com/nyashahama/consulting-leads-backend/internal/store"
	"github.com/nyashahama/consulting-leads-backend/internal/templates"
)

// LeadResult reports what one ProcessLead call did.
type LeadResult struct {
	LeadID   uuid.UUID        `json:"leadId"`
	Due      []DueStep        `json:"due"`
	Sent     int              `json:"sent"`
	Failed   int              `json:"failed"`
	Skipped  int              `json:"skipped"`
	Failures []*DeliveryError `json:"-"`
}

// PassSummary reports one ProcessAll call.
type PassSummary struct {
	StartedAt      time.Time     `json:"startedAt"`
	Duration       time.Duration `json:"duration"`
	LeadsProcessed int           `json:"leadsProcessed"`
	Sent           int           `json:"sent"`
	Failed         int           `json:"failed"`
}

// ─── PER-LEAD ────────────────────────────────────────────────────────────────

// ProcessLead sends every step currently due for l. Steps are attempted in
// order and each succeeds or fails on its own. A failed step gets a failed
// log entry and stays unsent so the next pass retries it. Only a store
// failure stops the lead early; it is returned wrapping ErrStoreUnavailable.
//
// l is refreshed from the store once the per-lead lock is held, so a pause
// recorded after l was read is honoured, and its sent set is updated as
// steps are recorded.
func (e *Engine) ProcessLead(ctx context.Context, l *lead.Lead) (LeadResult, error) {
	unlock := e.locks.lock(l.ID)
	defer unlock()

	log := e.logger.With("lead_id", l.ID)
	res := LeadResult{LeadID: l.ID}

	// A pause or response may have landed since l was read.
	fresh, err := e.store.FindByID(ctx, l.ID)
	switch {
	case errors.Is(err, store.ErrLeadNotFound):
		log.Warn("lead vanished, skipping")
		return res, nil
	case err != nil:
		return res, storeErr("FindByID", err)
	}
	*l = *fresh

	if l.SequencePaused {
		log.Debug("lead paused, skipping", "reason", l.PauseReason)
		return res, nil
	}

	now := e.now()
	res.Due = e.DueSteps(l, now)

	attempted := 0
	for _, d := range res.Due {
		key := d.Key()

		// The lead may be stale; the store is authoritative.
		sent, err := e.store.WasSent(ctx, l.ID, key)
		if err != nil {
			return res, storeErr("WasSent", err)
		}
		if sent {
			l.MarkSent(key)
			res.Skipped++
			continue
		}

		if attempted > 0 {
			if err := sleep(ctx, e.cfg.SendDelay); err != nil {
				return res, err
			}
		}
		attempted++

		entry := lead.EmailLog{
			ID:           uuid.New(),
			LeadID:       l.ID,
			SequenceID:   d.SequenceID,
			TemplateName: d.Step.Template,
			SequenceDay:  d.Step.Day,
			Subject:      sequence.PersonalizeSubject(d.Step.Subject, l.Name, l.Company),
		}

		if derr := e.deliver(ctx, l, d, entry.Subject); derr != nil {
			entry.Status = lead.StatusFailed
			entry.Error = derr.Err.Error()
			entry.SentAt = e.now()
			if err := e.store.LogEmail(ctx, entry); err != nil {
				return res, storeErr("LogEmail", err)
			}
			res.Failed++
			res.Failures = append(res.Failures, derr)
			e.stats.failed(d.SequenceID)
			log.Warn("email failed", "step", key.String(), "error", derr.Err)
			continue
		}

		entry.Status = lead.StatusSent
		entry.SentAt = e.now()
		err = e.store.MarkSent(ctx, l.ID, key, entry)
		switch {
		case errors.Is(err, store.ErrAlreadySent):
			log.Warn("step recorded concurrently", "step", key.String())
		case err != nil:
			return res, storeErr("MarkSent", err)
		}
		l.MarkSent(key)
		res.Sent++
		e.stats.sent(d.SequenceID)
		log.Info("email sent", "step", key.String(), "to", l.Email)
	}

	e.stats.leadProcessed()
	return res, nil
}

// deliver renders and sends one step.
func (e *Engine) deliver(ctx context.Context, l *lead.Lead, d DueStep, subject string) *DeliveryError {
	key := d.Key()
	render, err := e.templates.Resolve(d.Step.Template)
	if err != nil {
		return &DeliveryError{Key: key, Err: err}
	}

	data := templates.DataFor(l)
	data.BaseURL = e.cfg.BaseURL
	data.BookingURL = e.cfg.BookingURL
	data.UnsubscribeURL = e.UnsubscribeURL(l.ID)

	html, err := render(data)
	if err != nil {
		return &DeliveryError{Key: key, Err: err}
	}

	err = e.gateway.Send(ctx, email.Message{
		To:       l.Email,
		Subject:  subject,
		HTML:     html,
		Priority: string(d.Step.Priority),
		Campaign: d.SequenceID,
		LeadID:   l.ID.String(),
	})
	if err != nil {
		return &DeliveryError{Key: key, Err: err}
	}
	return nil
}

// UnsubscribeURL is the one-click link embedded in every email.
func (e *Engine) UnsubscribeURL(id uuid.UUID) string {
	return strings.TrimRight(e.cfg.BaseURL, "/") + "/api/unsubscribe/" + id.String()
}

// ─── AGGREGATE PASS ──────────────────────────────────────────────────────────

// ProcessAll runs one pass over every pending lead. Only one pass runs at a
// time; a concurrent call returns ErrPassInProgress immediately.
//
// A store failure aborts the pass: a critical alert is emitted and the error
// returned wraps ErrStoreUnavailable. When the pass sent anything a summary
// notification is emitted. Notification failures are logged only.
func (e *Engine) ProcessAll(ctx context.Context) (PassSummary, error) {
	if !e.passMu.TryLock() {
		return PassSummary{}, ErrPassInProgress
	}
	defer e.passMu.Unlock()

	start := e.now()
	sum := PassSummary{StartedAt: start}
	e.logger.Info("sequence pass starting")

	err := e.runPass(ctx, &sum)
	sum.Duration = e.now().Sub(start)
	e.stats.pass(sum, err)

	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			e.alert(ctx, "Sequence pass aborted", err)
		}
		e.logger.Error("sequence pass failed", "error", err, "sent", sum.Sent, "failed", sum.Failed)
		return sum, err
	}

	e.logger.Info("sequence pass complete",
		"leads", sum.LeadsProcessed,
		"sent", sum.Sent,
		"failed", sum.Failed,
		"duration", sum.Duration,
	)
	if sum.Sent > 0 {
		st := e.Stats()
		err := e.notifier.PassSummary(ctx, notify.Summary{
			StartedAt:      sum.StartedAt,
			Duration:       sum.Duration,
			LeadsProcessed: sum.LeadsProcessed,
			Sent:           sum.Sent,
			Failed:         sum.Failed,
			TotalSent:      st.EmailsSent,
			TotalFailed:    st.EmailsFailed,
		})
		if err != nil {
			e.logger.Warn("pass summary notification failed", "error", err)
		}
	}
	return sum, nil
}

func (e *Engine) runPass(ctx context.Context, sum *PassSummary) error {
	leads, err := e.store.GetPendingLeads(ctx, e.catalog.StepKeys())
	if err != nil {
		return storeErr("GetPendingLeads", err)
	}

	for i, l := range leads {
		if i > 0 {
			if err := sleep(ctx, e.cfg.LeadDelay); err != nil {
				return fmt.Errorf("sequencer: pass interrupted: %w", err)
			}
		}

		res, err := e.processLeadSafe(ctx, l)
		sum.LeadsProcessed++
		sum.Sent += res.Sent
		sum.Failed += res.Failed
		switch {
		case errors.Is(err, ErrStoreUnavailable):
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("sequencer: pass interrupted: %w", ctx.Err())
		case err != nil:
			sum.Failed++
			e.logger.Error("lead processing failed", "lead_id", l.ID, "error", err)
		}
	}
	return nil
}

// processLeadSafe turns a panic inside one lead into an error so the pass
// continues with the next lead.
func (e *Engine) processLeadSafe(ctx context.Context, l *lead.Lead) (res LeadResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sequencer: panic processing lead %s: %v", l.ID, p)
		}
	}()
	return e.ProcessLead(ctx, l)
}

func (e *Engine) alert(ctx context.Context, title string, cause error) {
	err := e.notifier.CriticalAlert(ctx, notify.Alert{
		Title: title,
		Error: cause.Error(),
		At:    e.now(),
	})
	if err != nil {
		e.logger.Error("critical alert notification failed", "error", err)
	}
}

// ─── PREVIEW ─────────────────────────────────────────────────────────────────

// PendingLead pairs a lead with the steps currently due for it.
type PendingLead struct {
	Lead *lead.Lead `json:"lead"`
	Due  []DueStep  `json:"due"`
}

// PendingLeads lists the leads a pass started now would send to, without
// sending anything.
func (e *Engine) PendingLeads(ctx context.Context) ([]PendingLead, error) {
	now := e.now()
	leads, err := e.store.GetPendingLeads(ctx, e.catalog.StepKeys())
	if err != nil {
		return nil, storeErr("GetPendingLeads", err)
	}
	var out []PendingLead
	for _, l := range leads {
		if due := e.DueSteps(l, now); len(due) > 0 {
			out = append(out, PendingLead{Lead: l, Due: due})
		}
	}
	return out, nil
}
