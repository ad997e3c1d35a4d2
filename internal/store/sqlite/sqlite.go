// Package sqlite is a single-file lead store on modernc.org/sqlite. It backs
// local development and the store contract tests, and satisfies the same
// interface as the Postgres store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so TEXT timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// Store is the SQLite lead store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: open: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: open: create db dir: %w", err)
	}

	dsn := "file:" + path + "?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer keeps MarkSent's check-and-insert serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: open: ping: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion is the current schema version.
const SchemaVersion = 1

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`); err != nil {
		return fmt.Errorf("sqlite: migrate: create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current); err != nil {
		return fmt.Errorf("sqlite: migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: migrate: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS leads (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			company TEXT NOT NULL DEFAULT '',
			diagnostic_date TEXT NOT NULL,
			last_response_at TEXT NULL,
			sequence_paused INTEGER NOT NULL DEFAULT 0,
			pause_reason TEXT NULL,
			meeting_scheduled INTEGER NOT NULL DEFAULT 0,
			meeting_attended INTEGER NOT NULL DEFAULT 0,
			meeting_date TEXT NULL,
			diagnostic_data TEXT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS lead_sent_steps (
			lead_id TEXT NOT NULL,
			sequence_id TEXT NOT NULL,
			day INTEGER NOT NULL,
			sent_at TEXT NOT NULL,
			PRIMARY KEY (lead_id, sequence_id, day),
			FOREIGN KEY(lead_id) REFERENCES leads(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS email_logs (
			id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL,
			sequence_id TEXT NOT NULL,
			template_name TEXT NOT NULL,
			sequence_day INTEGER NOT NULL,
			subject TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NULL,
			sent_at TEXT NOT NULL,
			FOREIGN KEY(lead_id) REFERENCES leads(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_leads_diagnostic_date ON leads(diagnostic_date);`,
		`CREATE INDEX IF NOT EXISTS idx_email_logs_lead ON email_logs(lead_id, sent_at);`,
		`CREATE INDEX IF NOT EXISTS idx_email_logs_status ON email_logs(status, sent_at);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion); err != nil {
		return fmt.Errorf("sqlite: migrate: record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: migrate: commit: %w", err)
	}
	return nil
}
