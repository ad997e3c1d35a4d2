package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/notify"
	"github.com/nyashahama/consulting-leads-backend/internal/sequencer"
)

// Job names.
const (
	JobSequencePass = "sequence-pass"
	JobDailyDigest  = "daily-digest"
)

// PassRunner runs one aggregate sequence pass.
type PassRunner interface {
	ProcessAll(ctx context.Context) (sequencer.PassSummary, error)
}

// MetricsSource reads the store-level metrics for the digest.
type MetricsSource interface {
	GetMetrics(ctx context.Context, now time.Time) (lead.Metrics, error)
}

// SequencePassJob runs the aggregate pass every interval. A pass already in
// progress (for example one forced from the CLI) counts as a skipped run.
func SequencePassJob(engine PassRunner, interval, timeout time.Duration) Job {
	return Job{
		Name:       JobSequencePass,
		Interval:   interval,
		Timeout:    timeout,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			_, err := engine.ProcessAll(ctx)
			if errors.Is(err, sequencer.ErrPassInProgress) {
				return fmt.Errorf("%w: %w", ErrSkipped, err)
			}
			return err
		},
	}
}

// DigestJob sends the store metrics through the notifier every interval.
func DigestJob(src MetricsSource, n notify.Notifier, interval time.Duration) Job {
	return Job{
		Name:     JobDailyDigest,
		Interval: interval,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			m, err := src.GetMetrics(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("digest: metrics: %w", err)
			}
			if err := n.Digest(ctx, m); err != nil {
				return fmt.Errorf("digest: notify: %w", err)
			}
			return nil
		},
	}
}
