package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/store"
)

const leadColumns = `id, email, name, company, diagnostic_date, last_response_at,
	sequence_paused, pause_reason, meeting_scheduled, meeting_attended,
	meeting_date, diagnostic_data, created_at, updated_at`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*lead.Lead, error) {
	var (
		l                              lead.Lead
		diagDate, createdAt, updatedAt string
		lastResp, meetingDate, reason  sql.NullString
		diag                           sql.NullString
	)
	if err := row.Scan(&l.ID, &l.Email, &l.Name, &l.Company, &diagDate, &lastResp,
		&l.SequencePaused, &reason, &l.MeetingScheduled, &l.MeetingAttended,
		&meetingDate, &diag, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if l.DiagnosticDate, err = parseTime(diagDate); err != nil {
		return nil, err
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if lastResp.Valid {
		t, err := parseTime(lastResp.String)
		if err != nil {
			return nil, err
		}
		l.LastResponseAt = &t
	}
	if meetingDate.Valid {
		t, err := parseTime(meetingDate.String)
		if err != nil {
			return nil, err
		}
		l.MeetingDate = &t
	}
	l.PauseReason = reason.String
	if diag.Valid && diag.String != "" {
		if err := json.Unmarshal([]byte(diag.String), &l.Diagnostic); err != nil {
			return nil, fmt.Errorf("decode diagnostic_data: %w", err)
		}
	}
	l.EmailsSent = lead.NewStepSet()
	return &l, nil
}

// FindByEmail returns the lead with the given email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*lead.Lead, error) {
	return s.findOne(ctx, s.db, `SELECT `+leadColumns+` FROM leads WHERE email = ?`, store.NormalizeEmail(email))
}

// FindByID returns the lead with the given id.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	return s.findOne(ctx, s.db, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id.String())
}

func (s *Store) findOne(ctx context.Context, q querier, query string, arg any) (*lead.Lead, error) {
	l, err := scanLead(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find lead: %w", err)
	}
	if err := loadSentSteps(ctx, q, []*lead.Lead{l}); err != nil {
		return nil, fmt.Errorf("sqlite: find lead: %w", err)
	}
	return l, nil
}

// GetPendingLeads returns non-paused leads that a sequence can still apply
// to (no response yet, or a missed meeting) with at least one of steps
// unsent, whatever their age.
func (s *Store) GetPendingLeads(ctx context.Context, steps []lead.StepKey) ([]*lead.Lead, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	args := make([]any, 0, 2*len(steps))
	for _, k := range steps {
		args = append(args, k.SequenceID, k.Day)
	}
	values := strings.TrimSuffix(strings.Repeat("(?, ?),", len(steps)), ",")

	rows, err := s.db.QueryContext(ctx, `
		WITH catalog(sequence_id, day) AS (VALUES `+values+`)
		SELECT `+leadColumns+`
		FROM leads l
		WHERE l.sequence_paused = 0
		  AND (l.last_response_at IS NULL
		       OR (l.meeting_scheduled = 1 AND l.meeting_attended = 0 AND l.meeting_date IS NOT NULL))
		  AND EXISTS (
		      SELECT 1 FROM catalog c
		      WHERE NOT EXISTS (
		          SELECT 1 FROM lead_sent_steps s
		          WHERE s.lead_id = l.id AND s.sequence_id = c.sequence_id AND s.day = c.day))
		ORDER BY l.diagnostic_date, l.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetPendingLeads: %w", err)
	}

	var leads []*lead.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: GetPendingLeads: scan: %w", err)
		}
		leads = append(leads, l)
	}
	// Release the single connection before the follow-up query.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: GetPendingLeads: %w", err)
	}

	if err := loadSentSteps(ctx, s.db, leads); err != nil {
		return nil, fmt.Errorf("sqlite: GetPendingLeads: %w", err)
	}
	return leads, nil
}

func loadSentSteps(ctx context.Context, q querier, leads []*lead.Lead) error {
	if len(leads) == 0 {
		return nil
	}
	byID := make(map[string]*lead.Lead, len(leads))
	args := make([]any, len(leads))
	for i, l := range leads {
		byID[l.ID.String()] = l
		args[i] = l.ID.String()
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(leads)), ",")

	rows, err := q.QueryContext(ctx,
		`SELECT lead_id, sequence_id, day FROM lead_sent_steps WHERE lead_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("load sent steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			key lead.StepKey
		)
		if err := rows.Scan(&id, &key.SequenceID, &key.Day); err != nil {
			return fmt.Errorf("load sent steps: scan: %w", err)
		}
		if l, ok := byID[id]; ok {
			l.MarkSent(key)
		}
	}
	return rows.Err()
}

// UpsertLead creates the lead or updates only its profile and diagnostic
// payload, preserving id and diagnostic_date.
func (s *Store) UpsertLead(ctx context.Context, p store.UpsertLeadParams) (store.UpsertResult, error) {
	raw, err := json.Marshal(p.Diagnostic)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("sqlite: UpsertLead: encode diagnostic_data: %w", err)
	}
	email := store.NormalizeEmail(p.Email)
	now := formatTime(p.Now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("sqlite: UpsertLead: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id      string
		created bool
	)
	err = tx.QueryRowContext(ctx, `SELECT id FROM leads WHERE email = ?`, email).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
		id = uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO leads (id, email, name, company, diagnostic_date, diagnostic_data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, email, p.Name, p.Company, now, string(raw), now, now)
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE leads SET name = ?, company = ?, diagnostic_data = ?, updated_at = ? WHERE id = ?`,
			p.Name, p.Company, string(raw), now, id)
	}
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("sqlite: UpsertLead: %w", err)
	}

	l, err := s.findOne(ctx, tx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	if err != nil {
		return store.UpsertResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return store.UpsertResult{}, fmt.Errorf("sqlite: UpsertLead: commit: %w", err)
	}
	return store.UpsertResult{Lead: l, Created: created}, nil
}

func (s *Store) update(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s: rows affected: %w", op, err)
	}
	if n == 0 {
		return store.ErrLeadNotFound
	}
	return nil
}

// Pause stops sequencing for the lead.
func (s *Store) Pause(ctx context.Context, id uuid.UUID, reason string) error {
	return s.update(ctx, "Pause",
		`UPDATE leads SET sequence_paused = 1, pause_reason = ?, updated_at = ? WHERE id = ?`,
		reason, formatTime(time.Now()), id.String())
}

// Resume clears the pause flag and reason.
func (s *Store) Resume(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, "Resume",
		`UPDATE leads SET sequence_paused = 0, pause_reason = NULL, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id.String())
}

// MarkResponded records the time of the lead's latest response.
func (s *Store) MarkResponded(ctx context.Context, id uuid.UUID, at time.Time) error {
	ts := formatTime(at)
	return s.update(ctx, "MarkResponded",
		`UPDATE leads SET last_response_at = ?, updated_at = ? WHERE id = ?`, ts, ts, id.String())
}

// SetMeeting records a booked meeting and resets attendance.
func (s *Store) SetMeeting(ctx context.Context, id uuid.UUID, date time.Time) error {
	return s.update(ctx, "SetMeeting",
		`UPDATE leads SET meeting_scheduled = 1, meeting_attended = 0, meeting_date = ?, updated_at = ? WHERE id = ?`,
		formatTime(date), formatTime(time.Now()), id.String())
}

// MarkMeetingAttended sets the attendance flag.
func (s *Store) MarkMeetingAttended(ctx context.Context, id uuid.UUID, attended bool) error {
	return s.update(ctx, "MarkMeetingAttended",
		`UPDATE leads SET meeting_attended = ?, updated_at = ? WHERE id = ?`,
		attended, formatTime(time.Now()), id.String())
}
