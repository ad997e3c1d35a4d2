// Package store is the Postgres-backed lead store. It persists lead records,
// the per-lead set of dispatched (sequence, day) steps, and the email log.
//
// Multi-step writes run inside withTx at serializable isolation. MarkSent is
// the one operation that must be atomic: the step insert and the log append
// commit together or not at all, and a duplicate step surfaces as
// ErrAlreadySent.
//
// Dependency rule: store imports lead only. It never imports sequencer, api,
// or email.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/google/uuid"
	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

// ─── ERRORS ──────────────────────────────────────────────────────────────────

// ErrLeadNotFound is returned when no lead matches the id or email.
var ErrLeadNotFound = errors.New("store: lead not found")

// ErrAlreadySent is returned by MarkSent when the (sequence, day) step is
// already recorded for the lead. The sequencer treats it as success: the
// email went out on an earlier or concurrent pass.
var ErrAlreadySent = errors.New("store: step already sent")

// ─── SHARED TYPES ────────────────────────────────────────────────────────────

// UpsertLeadParams is the profile and diagnostic payload written on every
// submission. Now becomes the diagnostic date only when the lead is created.
type UpsertLeadParams struct {
	Email      string
	Name       string
	Company    string
	Diagnostic lead.DiagnosticData
	Now        time.Time
}

// UpsertResult reports the stored lead and whether this call created it.
type UpsertResult struct {
	Lead    *lead.Lead
	Created bool
}

// NormalizeEmail is the canonical form used as the lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MetricWindows returns the lower bounds for the today, week and month
// email counters.
func MetricWindows(now time.Time) (day, week, month time.Time) {
	now = now.UTC()
	day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return day, now.AddDate(0, 0, -7), now.AddDate(0, 0, -30)
}

// NewEmailLogID assigns an id when the caller left it zero.
func NewEmailLogID(e *lead.EmailLog) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
}

// ─── STORE ───────────────────────────────────────────────────────────────────

// Store holds the connection pool. The operation files (leads.go, emails.go)
// attach methods to this type.
type Store struct {
	pool *sql.DB
}

// New creates a Store from a live connection pool. The pool must already be
// open and migrated.
func New(pool *sql.DB) *Store {
	return &Store{pool: pool}
}

// Open connects to Postgres, tunes the pool, verifies connectivity and
// applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(10)
	pool.SetConnMaxLifetime(5 * time.Minute)
	pool.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool), nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txFunc receives a transaction. Returning a non-nil error causes withTx to
// roll back.
type txFunc func(ctx context.Context, tx dbtx) error

// withTx begins a serializable transaction, passes it to fn, and commits on
// success or rolls back on any error (including panics).
func (s *Store) withTx(ctx context.Context, fn txFunc) error {
	tx, err := s.pool.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: fn error: %w; rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// requireOne maps a zero-row update onto ErrLeadNotFound.
func requireOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s: rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrLeadNotFound
	}
	return nil
}
