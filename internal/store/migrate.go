package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; index+1 is the schema version.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS leads (
		id                UUID PRIMARY KEY,
		email             TEXT NOT NULL UNIQUE,
		name              TEXT NOT NULL,
		company           TEXT NOT NULL DEFAULT '',
		diagnostic_date   TIMESTAMPTZ NOT NULL,
		last_response_at  TIMESTAMPTZ NULL,
		sequence_paused   BOOLEAN NOT NULL DEFAULT FALSE,
		pause_reason      TEXT NULL,
		meeting_scheduled BOOLEAN NOT NULL DEFAULT FALSE,
		meeting_attended  BOOLEAN NOT NULL DEFAULT FALSE,
		meeting_date      TIMESTAMPTZ NULL,
		diagnostic_data   JSONB NULL,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leads_pending
		ON leads (diagnostic_date) WHERE sequence_paused = FALSE;

	CREATE TABLE IF NOT EXISTS lead_sent_steps (
		lead_id     UUID NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
		sequence_id TEXT NOT NULL,
		day         INTEGER NOT NULL,
		sent_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (lead_id, sequence_id, day)
	);

	CREATE TABLE IF NOT EXISTS email_logs (
		id            UUID PRIMARY KEY,
		lead_id       UUID NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
		sequence_id   TEXT NOT NULL,
		template_name TEXT NOT NULL,
		sequence_day  INTEGER NOT NULL,
		subject       TEXT NOT NULL,
		status        TEXT NOT NULL CHECK (status IN ('sent', 'failed', 'pending')),
		error         TEXT NULL,
		sent_at       TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_email_logs_lead ON email_logs (lead_id, sent_at);
	CREATE INDEX IF NOT EXISTS idx_email_logs_status ON email_logs (status, sent_at);
	`,
}

// Migrate brings the schema up to the latest version. Each version runs in
// its own transaction together with its schema_migrations row.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("store: migrate: create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("store: migrate: read version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: migrate v%d: begin: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: migrate v%d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: migrate v%d: record version: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: migrate v%d: commit: %w", version, err)
		}
	}
	return nil
}

// Migrate applies pending migrations on the store's own pool.
func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}
