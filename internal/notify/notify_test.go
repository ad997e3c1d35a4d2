package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/consulting-leads-backend/internal/email"
	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingGateway struct {
	sent []email.Message
	err  error
}

func (g *recordingGateway) Send(_ context.Context, m email.Message) error {
	if g.err != nil {
		return g.err
	}
	g.sent = append(g.sent, m)
	return nil
}

func (g *recordingGateway) TestConnection(context.Context) error { return g.err }

type countingNotifier struct {
	summaries, alerts, digests int
	err                        error
}

func (c *countingNotifier) PassSummary(context.Context, notify.Summary) error {
	c.summaries++
	return c.err
}

func (c *countingNotifier) CriticalAlert(context.Context, notify.Alert) error {
	c.alerts++
	return c.err
}

func (c *countingNotifier) Digest(context.Context, lead.Metrics) error {
	c.digests++
	return c.err
}

func TestMailNotifier(t *testing.T) {
	gw := &recordingGateway{}
	n := notify.NewMailNotifier(gw, "ops@example.com")
	ctx := context.Background()

	require.NoError(t, n.PassSummary(ctx, notify.Summary{LeadsProcessed: 4, Sent: 2, Failed: 1}))
	require.NoError(t, n.CriticalAlert(ctx, notify.Alert{Title: "Pass aborted", Error: "<db down>", At: time.Now()}))
	require.NoError(t, n.Digest(ctx, lead.Metrics{TotalLeads: 12, EmailsSentToday: 5}))

	require.Len(t, gw.sent, 3)
	for _, m := range gw.sent {
		assert.Equal(t, "ops@example.com", m.To)
	}
	assert.Equal(t, "Sequence pass: 2 sent, 1 failed", gw.sent[0].Subject)
	assert.Equal(t, "CRITICAL: Pass aborted", gw.sent[1].Subject)
	assert.Equal(t, "high", gw.sent[1].Priority)
	assert.Contains(t, gw.sent[1].HTML, "&lt;db down&gt;")
	assert.Contains(t, gw.sent[2].Subject, "12 leads")
}

func TestMailNotifier_GatewayError(t *testing.T) {
	gw := &recordingGateway{err: errors.New("smtp down")}
	n := notify.NewMailNotifier(gw, "ops@example.com")
	assert.Error(t, n.PassSummary(context.Background(), notify.Summary{}))
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &countingNotifier{}
	bad := &countingNotifier{err: errors.New("broker gone")}
	n := notify.Fanout(bad, nil, ok, notify.NewLogNotifier(discardLogger()))

	err := n.CriticalAlert(context.Background(), notify.Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
	assert.Equal(t, 1, ok.alerts)
	assert.Equal(t, 1, bad.alerts)

	require.NoError(t, notify.Fanout(ok).Digest(context.Background(), lead.Metrics{}))
	assert.Equal(t, 1, ok.digests)
}
