package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/nyashahama/consulting-leads-backend/internal/email"
	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

var mailTmpl = template.Must(template.New("notify").Parse(`
{{define "summary"}}<h2>Sequence pass complete</h2>
<table>
<tr><td>Leads processed</td><td>{{.LeadsProcessed}}</td></tr>
<tr><td>Sent</td><td>{{.Sent}}</td></tr>
<tr><td>Failed</td><td>{{.Failed}}</td></tr>
<tr><td>Duration</td><td>{{.Duration}}</td></tr>
<tr><td>Sent since start</td><td>{{.TotalSent}}</td></tr>
<tr><td>Failed since start</td><td>{{.TotalFailed}}</td></tr>
</table>{{end}}
{{define "alert"}}<h2 style="color:#b00">{{.Title}}</h2>
<p>{{.At.Format "2006-01-02 15:04:05 MST"}}</p>
<pre>{{.Error}}</pre>{{end}}
{{define "digest"}}<h2>Daily lead digest</h2>
<table>
<tr><td>Total leads</td><td>{{.TotalLeads}}</td></tr>
<tr><td>Emails today</td><td>{{.EmailsSentToday}}</td></tr>
<tr><td>Emails this week</td><td>{{.EmailsSentWeek}}</td></tr>
<tr><td>Emails this month</td><td>{{.EmailsSentMonth}}</td></tr>
<tr><td>Active sequences</td><td>{{.ActiveSequences}}</td></tr>
<tr><td>Paused sequences</td><td>{{.PausedSequences}}</td></tr>
</table>{{end}}
`))

type mailNotifier struct {
	gw    email.Gateway
	admin string
}

// NewMailNotifier emails every notification to the operator address.
func NewMailNotifier(gw email.Gateway, adminEmail string) Notifier {
	return &mailNotifier{gw: gw, admin: adminEmail}
}

func (n *mailNotifier) send(ctx context.Context, tmpl, subject string, priority string, data any) error {
	var buf bytes.Buffer
	if err := mailTmpl.ExecuteTemplate(&buf, tmpl, data); err != nil {
		return fmt.Errorf("notify: mail: render %s: %w", tmpl, err)
	}
	err := n.gw.Send(ctx, email.Message{
		To:       n.admin,
		Subject:  subject,
		HTML:     buf.String(),
		Priority: priority,
		Campaign: "operator-" + tmpl,
	})
	if err != nil {
		return fmt.Errorf("notify: mail: send %s: %w", tmpl, err)
	}
	return nil
}

func (n *mailNotifier) PassSummary(ctx context.Context, s Summary) error {
	subject := fmt.Sprintf("Sequence pass: %d sent, %d failed", s.Sent, s.Failed)
	return n.send(ctx, "summary", subject, "normal", s)
}

func (n *mailNotifier) CriticalAlert(ctx context.Context, a Alert) error {
	return n.send(ctx, "alert", "CRITICAL: "+a.Title, "high", a)
}

func (n *mailNotifier) Digest(ctx context.Context, m lead.Metrics) error {
	subject := fmt.Sprintf("Lead digest: %d leads, %d emails today", m.TotalLeads, m.EmailsSentToday)
	return n.send(ctx, "digest", subject, "low", m)
}
