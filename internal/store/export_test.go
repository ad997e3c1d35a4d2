package store

import "context"

// Truncate empties every lead table. Test-only.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.ExecContext(ctx, `TRUNCATE leads, lead_sent_steps, email_logs CASCADE`)
	return err
}
