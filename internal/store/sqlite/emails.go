package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/store"
)

// WasSent reports whether key is recorded for the lead.
func (s *Store) WasSent(ctx context.Context, leadID uuid.UUID, key lead.StepKey) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lead_sent_steps WHERE lead_id = ? AND sequence_id = ? AND day = ?`,
		leadID.String(), key.SequenceID, key.Day).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: WasSent: %w", err)
	}
	return n > 0, nil
}

// MarkSent records key and appends a sent log entry atomically. A key that
// is already recorded yields store.ErrAlreadySent and writes nothing.
func (s *Store) MarkSent(ctx context.Context, leadID uuid.UUID, key lead.StepKey, entry lead.EmailLog) error {
	store.NewEmailLogID(&entry)
	entry.LeadID = leadID
	entry.SequenceID = key.SequenceID
	entry.SequenceDay = key.Day
	entry.Status = lead.StatusSent
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: MarkSent: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO lead_sent_steps (lead_id, sequence_id, day, sent_at) VALUES (?, ?, ?, ?)`,
		leadID.String(), key.SequenceID, key.Day, formatTime(entry.SentAt))
	if err != nil {
		return fmt.Errorf("sqlite: MarkSent: insert step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: MarkSent: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrAlreadySent
	}
	if err := insertLog(ctx, tx, entry); err != nil {
		return fmt.Errorf("sqlite: MarkSent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: MarkSent: commit: %w", err)
	}
	return nil
}

// LogEmail appends entry without touching the sent set.
func (s *Store) LogEmail(ctx context.Context, entry lead.EmailLog) error {
	store.NewEmailLogID(&entry)
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now()
	}
	if err := insertLog(ctx, s.db, entry); err != nil {
		return fmt.Errorf("sqlite: LogEmail: %w", err)
	}
	return nil
}

func insertLog(ctx context.Context, q querier, e lead.EmailLog) error {
	if !e.Status.Valid() {
		return fmt.Errorf("insert email log: invalid status %q", e.Status)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO email_logs (id, lead_id, sequence_id, template_name, sequence_day, subject, status, error, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.LeadID.String(), e.SequenceID, e.TemplateName, e.SequenceDay, e.Subject,
		string(e.Status), sql.NullString{String: e.Error, Valid: e.Error != ""}, formatTime(e.SentAt))
	if err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

// ListEmailLogs returns the lead's log oldest first.
func (s *Store) ListEmailLogs(ctx context.Context, leadID uuid.UUID) ([]lead.EmailLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, sequence_id, template_name, sequence_day, subject, status, error, sent_at
		FROM email_logs WHERE lead_id = ? ORDER BY sent_at, id`, leadID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListEmailLogs: %w", err)
	}
	defer rows.Close()

	var logs []lead.EmailLog
	for rows.Next() {
		var (
			e              lead.EmailLog
			status, sentAt string
			errMsg         sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.LeadID, &e.SequenceID, &e.TemplateName, &e.SequenceDay,
			&e.Subject, &status, &errMsg, &sentAt); err != nil {
			return nil, fmt.Errorf("sqlite: ListEmailLogs: scan: %w", err)
		}
		if e.SentAt, err = parseTime(sentAt); err != nil {
			return nil, fmt.Errorf("sqlite: ListEmailLogs: %w", err)
		}
		e.Status = lead.EmailStatus(status)
		e.Error = errMsg.String
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: ListEmailLogs: %w", err)
	}
	return logs, nil
}

// GetMetrics summarises lead and email counts relative to now.
func (s *Store) GetMetrics(ctx context.Context, now time.Time) (lead.Metrics, error) {
	day, week, month := store.MetricWindows(now)

	var m lead.Metrics
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM leads),
			(SELECT COUNT(*) FROM email_logs WHERE status = 'sent' AND sent_at >= ?),
			(SELECT COUNT(*) FROM email_logs WHERE status = 'sent' AND sent_at >= ?),
			(SELECT COUNT(*) FROM email_logs WHERE status = 'sent' AND sent_at >= ?),
			(SELECT COUNT(*) FROM leads WHERE sequence_paused = 0 AND last_response_at IS NULL),
			(SELECT COUNT(*) FROM leads WHERE sequence_paused = 1)`,
		formatTime(day), formatTime(week), formatTime(month),
	).Scan(&m.TotalLeads, &m.EmailsSentToday, &m.EmailsSentWeek, &m.EmailsSentMonth,
		&m.ActiveSequences, &m.PausedSequences)
	if err != nil {
		return lead.Metrics{}, fmt.Errorf("sqlite: GetMetrics: %w", err)
	}
	return m, nil
}
