package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

const leadColumns = `id, email, name, company, diagnostic_date, last_response_at,
	sequence_paused, pause_reason, meeting_scheduled, meeting_attended,
	meeting_date, diagnostic_data, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanLead reads one leads row. extra receives any trailing columns.
func scanLead(row rowScanner, extra ...any) (*lead.Lead, error) {
	var (
		l           lead.Lead
		lastResp    sql.NullTime
		meetingDate sql.NullTime
		pauseReason sql.NullString
		diag        pqtype.NullRawMessage
	)
	dest := []any{
		&l.ID, &l.Email, &l.Name, &l.Company, &l.DiagnosticDate, &lastResp,
		&l.SequencePaused, &pauseReason, &l.MeetingScheduled, &l.MeetingAttended,
		&meetingDate, &diag, &l.CreatedAt, &l.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if lastResp.Valid {
		t := lastResp.Time
		l.LastResponseAt = &t
	}
	if meetingDate.Valid {
		t := meetingDate.Time
		l.MeetingDate = &t
	}
	l.PauseReason = pauseReason.String
	if diag.Valid && len(diag.RawMessage) > 0 {
		if err := json.Unmarshal(diag.RawMessage, &l.Diagnostic); err != nil {
			return nil, fmt.Errorf("decode diagnostic_data: %w", err)
		}
	}
	l.EmailsSent = lead.NewStepSet()
	return &l, nil
}

func encodeDiagnostic(d lead.DiagnosticData) (pqtype.NullRawMessage, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("encode diagnostic_data: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

// ─── READS ───────────────────────────────────────────────────────────────────

// FindByEmail returns the lead with the given email, or ErrLeadNotFound.
func (s *Store) FindByEmail(ctx context.Context, email string) (*lead.Lead, error) {
	row := s.pool.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE email = $1`, NormalizeEmail(email))
	return s.findOne(ctx, row, "FindByEmail")
}

// FindByID returns the lead with the given id, or ErrLeadNotFound.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	row := s.pool.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	return s.findOne(ctx, row, "FindByID")
}

func (s *Store) findOne(ctx context.Context, row *sql.Row, op string) (*lead.Lead, error) {
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", op, err)
	}
	if err := loadSentSteps(ctx, s.pool, []*lead.Lead{l}); err != nil {
		return nil, fmt.Errorf("store: %s: %w", op, err)
	}
	return l, nil
}

// GetPendingLeads returns every non-paused lead that some catalog sequence
// can still apply to (no response yet, or a missed meeting) and that has at
// least one of steps unsent. The age of the lead does not matter, so a lead
// resumed long after its diagnostic still gets its overdue steps. Each lead
// carries its sent set.
func (s *Store) GetPendingLeads(ctx context.Context, steps []lead.StepKey) ([]*lead.Lead, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	seqIDs := make([]string, len(steps))
	days := make([]int64, len(steps))
	for i, k := range steps {
		seqIDs[i], days[i] = k.SequenceID, int64(k.Day)
	}

	rows, err := s.pool.QueryContext(ctx, `
		SELECT `+leadColumns+`
		FROM leads l
		WHERE l.sequence_paused = FALSE
		  AND (l.last_response_at IS NULL
		       OR (l.meeting_scheduled AND NOT l.meeting_attended AND l.meeting_date IS NOT NULL))
		  AND EXISTS (
		      SELECT 1 FROM unnest($1::text[], $2::int[]) AS c(sequence_id, day)
		      WHERE NOT EXISTS (
		          SELECT 1 FROM lead_sent_steps s
		          WHERE s.lead_id = l.id AND s.sequence_id = c.sequence_id AND s.day = c.day))
		ORDER BY l.diagnostic_date, l.id`, pq.Array(seqIDs), pq.Array(days))
	if err != nil {
		return nil, fmt.Errorf("store: GetPendingLeads: %w", err)
	}
	defer rows.Close()

	var leads []*lead.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("store: GetPendingLeads: scan: %w", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: GetPendingLeads: %w", err)
	}

	if err := loadSentSteps(ctx, s.pool, leads); err != nil {
		return nil, fmt.Errorf("store: GetPendingLeads: %w", err)
	}
	return leads, nil
}

// loadSentSteps fills EmailsSent for every lead in one query.
func loadSentSteps(ctx context.Context, q dbtx, leads []*lead.Lead) error {
	if len(leads) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*lead.Lead, len(leads))
	ids := make([]string, len(leads))
	for i, l := range leads {
		byID[l.ID] = l
		ids[i] = l.ID.String()
	}

	rows, err := q.QueryContext(ctx,
		`SELECT lead_id, sequence_id, day FROM lead_sent_steps WHERE lead_id = ANY($1::uuid[])`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load sent steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  uuid.UUID
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

// ─── WRITES ──────────────────────────────────────────────────────────────────

// UpsertLead creates the lead on first submission. On later submissions for
// the same email only the profile and diagnostic payload change; id and
// diagnostic_date are preserved.
func (s *Store) UpsertLead(ctx context.Context, p UpsertLeadParams) (UpsertResult, error) {
	diag, err := encodeDiagnostic(p.Diagnostic)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("store: UpsertLead: %w", err)
	}
	now := p.Now.UTC()

	var res UpsertResult
	err = s.withTx(ctx, func(ctx context.Context, tx dbtx) error {
		// xmax = 0 only for a freshly inserted row.
		row := tx.QueryRowContext(ctx, `
			INSERT INTO leads (id, email, name, company, diagnostic_date, diagnostic_data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $5, $5)
			ON CONFLICT (email) DO UPDATE SET
				name            = EXCLUDED.name,
				company         = EXCLUDED.company,
				diagnostic_data = EXCLUDED.diagnostic_data,
				updated_at      = EXCLUDED.updated_at
			RETURNING `+leadColumns+`, (xmax = 0) AS inserted`,
			uuid.New(), NormalizeEmail(p.Email), p.Name, p.Company, now, diag)

		l, err := scanLead(row, &res.Created)
		if err != nil {
			return fmt.Errorf("UpsertLead: %w", err)
		}
		if err := loadSentSteps(ctx, tx, []*lead.Lead{l}); err != nil {
			return fmt.Errorf("UpsertLead: %w", err)
		}
		res.Lead = l
		return nil
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("store: %w", err)
	}
	return res, nil
}

// Pause stops sequencing for the lead. Pausing a paused lead only replaces
// the reason.
func (s *Store) Pause(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := s.pool.ExecContext(ctx,
		`UPDATE leads SET sequence_paused = TRUE, pause_reason = $2, updated_at = $3 WHERE id = $1`,
		id, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: Pause: %w", err)
	}
	return requireOne(res, "Pause")
}

// Resume clears the pause flag and reason. Resuming an active lead is a
// no-op.
func (s *Store) Resume(ctx context.Context, id uuid.UUID) error {
	res, err := s.pool.ExecContext(ctx,
		`UPDATE leads SET sequence_paused = FALSE, pause_reason = NULL, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: Resume: %w", err)
	}
	return requireOne(res, "Resume")
}

// MarkResponded records the time of the lead's latest response.
func (s *Store) MarkResponded(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.pool.ExecContext(ctx,
		`UPDATE leads SET last_response_at = $2, updated_at = $2 WHERE id = $1`,
		id, at.UTC())
	if err != nil {
		return fmt.Errorf("store: MarkResponded: %w", err)
	}
	return requireOne(res, "MarkResponded")
}

// SetMeeting records a booked meeting. Attendance is reset.
func (s *Store) SetMeeting(ctx context.Context, id uuid.UUID, date time.Time) error {
	res, err := s.pool.ExecContext(ctx, `
		UPDATE leads
		SET meeting_scheduled = TRUE, meeting_attended = FALSE, meeting_date = $2, updated_at = $3
		WHERE id = $1`,
		id, date.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: SetMeeting: %w", err)
	}
	return requireOne(res, "SetMeeting")
}

// MarkMeetingAttended sets the attendance flag.
func (s *Store) MarkMeetingAttended(ctx context.Context, id uuid.UUID, attended bool) error {
	res, err := s.pool.ExecContext(ctx,
		`UPDATE leads SET meeting_attended = $2, updated_at = $3 WHERE id = $1`,
		id, attended, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: MarkMeetingAttended: %w", err)
	}
	return requireOne(res, "MarkMeetingAttended")
}
