// Package notify delivers operator-facing messages: the summary emitted after
// an aggregate pass that sent something, the critical alert raised when a
// pass aborts, and the daily metrics digest.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

// Summary describes one completed aggregate pass.
type Summary struct {
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration_ns"`
	LeadsProcessed int           `json:"leads_processed"`
	Sent           int           `json:"sent"`
	Failed         int           `json:"failed"`
	TotalSent      int64         `json:"total_sent"`
	TotalFailed    int64         `json:"total_failed"`
}

// Alert is a critical failure that stopped a pass.
type Alert struct {
	Title string    `json:"title"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// Notifier is implemented by every delivery channel.
type Notifier interface {
	PassSummary(ctx context.Context, s Summary) error
	CriticalAlert(ctx context.Context, a Alert) error
	Digest(ctx context.Context, m lead.Metrics) error
}

// ─── LOG ─────────────────────────────────────────────────────────────────────

type logNotifier struct {
	log *slog.Logger
}

// NewLogNotifier writes every notification to the structured log.
func NewLogNotifier(logger *slog.Logger) Notifier {
	return &logNotifier{log: logger.With("component", "notify")}
}

func (n *logNotifier) PassSummary(_ context.Context, s Summary) error {
	n.log.Info("sequence pass summary",
		"leads", s.LeadsProcessed,
		"sent", s.Sent,
		"failed", s.Failed,
		"duration", s.Duration,
		"total_sent", s.TotalSent,
		"total_failed", s.TotalFailed,
	)
	return nil
}

func (n *logNotifier) CriticalAlert(_ context.Context, a Alert) error {
	n.log.Error("critical alert", "title", a.Title, "error", a.Error, "at", a.At)
	return nil
}

func (n *logNotifier) Digest(_ context.Context, m lead.Metrics) error {
	n.log.Info("daily digest",
		"total_leads", m.TotalLeads,
		"sent_today", m.EmailsSentToday,
		"sent_week", m.EmailsSentWeek,
		"sent_month", m.EmailsSentMonth,
		"active", m.ActiveSequences,
		"paused", m.PausedSequences,
	)
	return nil
}

// ─── FANOUT ──────────────────────────────────────────────────────────────────

type fanout []Notifier

// Fanout delivers to every notifier and joins their errors. One failing
// channel never stops the others.
func Fanout(ns ...Notifier) Notifier {
	out := make(fanout, 0, len(ns))
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (f fanout) each(fn func(Notifier) error) error {
	var errs []error
	for _, n := range f {
		if err := fn(n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

func (f fanout) PassSummary(ctx context.Context, s Summary) error {
	return f.each(func(n Notifier) error { return n.PassSummary(ctx, s) })
}

func (f fanout) CriticalAlert(ctx context.Context, a Alert) error {
	return f.each(func(n Notifier) error { return n.CriticalAlert(ctx, a) })
}

func (f fanout) Digest(ctx context.Context, m lead.Metrics) error {
	return f.each(func(n Notifier) error { return n.Digest(ctx, m) })
}
