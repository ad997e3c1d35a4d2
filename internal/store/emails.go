package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

// WasSent reports whether key is recorded for the lead.
func (s *Store) WasSent(ctx context.Context, leadID uuid.UUID, key lead.StepKey) (bool, error) {
	var exists bool
	err := s.pool.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM lead_sent_steps WHERE lead_id = $1 AND sequence_id = $2 AND day = $3
		)`, leadID, key.SequenceID, key.Day).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: WasSent: %w", err)
	}
	return exists, nil
}

// MarkSent records key as dispatched and appends entry to the email log in
// one transaction. If key is already recorded nothing is written and
// ErrAlreadySent is returned.
func (s *Store) MarkSent(ctx context.Context, leadID uuid.UUID, key lead.StepKey, entry lead.EmailLog) error {
	NewEmailLogID(&entry)
	entry.LeadID = leadID
	entry.SequenceID = key.SequenceID
	entry.SequenceDay = key.Day
	entry.Status = lead.StatusSent
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now()
	}

	err := s.withTx(ctx, func(ctx context.Context, tx dbtx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO lead_sent_steps (lead_id, sequence_id, day, sent_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`,
			leadID, key.SequenceID, key.Day, entry.SentAt.UTC())
		if err != nil {
			return fmt.Errorf("MarkSent: insert step: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("MarkSent: rows affected: %w", err)
		}
		if n == 0 {
			return ErrAlreadySent
		}
		return insertLog(ctx, tx, entry)
	})
	if errors.Is(err, ErrAlreadySent) {
		return ErrAlreadySent
	}
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// LogEmail appends entry to the email log without touching the sent set.
// Used for failed and pending attempts.
func (s *Store) LogEmail(ctx context.Context, entry lead.EmailLog) error {
	NewEmailLogID(&entry)
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now()
	}
	if err := insertLog(ctx, s.pool, entry); err != nil {
		return fmt.Errorf("store: LogEmail: %w", err)
	}
	return nil
}

func insertLog(ctx context.Context, q dbtx, e lead.EmailLog) error {
	if !e.Status.Valid() {
		return fmt.Errorf("insert email log: invalid status %q", e.Status)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO email_logs (id, lead_id, sequence_id, template_name, sequence_day, subject, status, error, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.LeadID, e.SequenceID, e.TemplateName, e.SequenceDay, e.Subject, string(e.Status),
		sql.NullString{String: e.Error, Valid: e.Error != ""}, e.SentAt.UTC())
	if err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

// ListEmailLogs returns the lead's log oldest first.
func (s *Store) ListEmailLogs(ctx context.Context, leadID uuid.UUID) ([]lead.EmailLog, error) {
	rows, err := s.pool.QueryContext(ctx, `
		SELECT id, lead_id, sequence_id, template_name, sequence_day, subject, status, error, sent_at
		FROM email_logs WHERE lead_id = $1 ORDER BY sent_at, id`, leadID)
	if err != nil {
		return nil, fmt.Errorf("store: ListEmailLogs: %w", err)
	}
	defer rows.Close()

	var logs []lead.EmailLog
	for rows.Next() {
		var (
			e      lead.EmailLog
			status string
			errMsg sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.LeadID, &e.SequenceID, &e.TemplateName, &e.SequenceDay,
			&e.Subject, &status, &errMsg, &e.SentAt); err != nil {
			return nil, fmt.Errorf("store: ListEmailLogs: scan: %w", err)
		}
		e.Status = lead.EmailStatus(status)
		e.Error = errMsg.String
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListEmailLogs: %w", err)
	}
	return logs, nil
}

// GetMetrics summarises lead and email counts relative to now.
func (s *Store) GetMetrics(ctx context.Context, now time.Time) (lead.Metrics, error) {
	day, week, month := MetricWindows(now)

	var m lead.Metrics
	err := s.pool.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM leads),
			(SELECT COUNT(*) FROM email_logs WHERE status = 'sent' AND sent_at >= $1),
			(SELECT COUNT(*) FROM email_logs WHERE status = 'sent' AND sent_at >= $2),
			(SELECT COUNT(*) FROM email_logs WHERE status = 'sent' AND sent_at >= $3),
			(SELECT COUNT(*) FROM leads WHERE NOT sequence_paused AND last_response_at IS NULL),
			(SELECT COUNT(*) FROM leads WHERE sequence_paused)`,
		day, week, month,
	).Scan(&m.TotalLeads, &m.EmailsSentToday, &m.EmailsSentWeek, &m.EmailsSentMonth,
		&m.ActiveSequences, &m.PausedSequences)
	if err != nil {
		return lead.Metrics{}, fmt.Errorf("store: GetMetrics: %w", err)
	}
	return m, nil
}
