package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// fallbackGateway wraps two gateways. Send tries the primary first; if that
// fails it logs the failure and tries the secondary. Invalid messages are
// never retried on the secondary.
type fallbackGateway struct {
	primary   Gateway
	secondary Gateway
	logger    *slog.Logger
}

// NewFallbackGateway returns a Gateway that sends through primary and, on
// failure, through secondary. If secondary is nil, primary is returned as is.
func NewFallbackGateway(primary, secondary Gateway, logger *slog.Logger) Gateway {
	if secondary == nil {
		return primary
	}
	return &fallbackGateway{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
}

func (f *fallbackGateway) Send(ctx context.Context, m Message) error {
	err := f.primary.Send(ctx, m)
	if err == nil || errors.Is(err, ErrInvalidMessage) || ctx.Err() != nil {
		return err
	}
	f.logger.Warn("email: primary gateway failed, trying secondary",
		"error", err,
		"campaign", m.Campaign,
		"lead_id", m.LeadID,
	)
	if serr := f.secondary.Send(ctx, m); serr != nil {
		return fmt.Errorf("email: primary failed: %w; secondary failed: %w", err, serr)
	}
	return nil
}

// TestConnection succeeds when either gateway is reachable.
func (f *fallbackGateway) TestConnection(ctx context.Context) error {
	perr := f.primary.TestConnection(ctx)
	if perr == nil {
		return nil
	}
	if serr := f.secondary.TestConnection(ctx); serr != nil {
		return fmt.Errorf("email: no gateway reachable: %w", errors.Join(perr, serr))
	}
	f.logger.Warn("email: primary gateway unreachable, secondary ok", "error", perr)
	return nil
}
