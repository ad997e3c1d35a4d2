package email

import (
	"context"
	"log/slog"
)

type logGateway struct {
	logger *slog.Logger
}

// NewLogGateway returns a Gateway that logs messages instead of sending
// them. Used in development when no provider is configured.
func NewLogGateway(logger *slog.Logger) Gateway {
	return &logGateway{logger: logger}
}

func (g *logGateway) Send(_ context.Context, m Message) error {
	if err := m.validate(); err != nil {
		return err
	}
	g.logger.Info("email: not sent (log driver)",
		"to", m.To,
		"subject", m.Subject,
		"campaign", m.Campaign,
		"lead_id", m.LeadID,
		"priority", m.Priority,
		"html_bytes", len(m.HTML),
	)
	return nil
}

func (g *logGateway) TestConnection(context.Context) error { return nil }
