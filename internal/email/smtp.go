package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	FromAddr string
	FromName string
}

// dialer is the part of *gomail.Dialer the gateway uses.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
	Dial() (gomail.SendCloser, error)
}

type smtpGateway struct {
	cfg    SMTPConfig
	dialer dialer
}

// NewSMTPGateway returns a Gateway that delivers through an SMTP relay.
func NewSMTPGateway(cfg SMTPConfig) Gateway {
	return &smtpGateway{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
	}
}

func (g *smtpGateway) Send(ctx context.Context, m Message) error {
	if err := m.validate(); err != nil {
		return err
	}
	// gomail has no context support; honour cancellation before dialing.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("email: smtp send: %w", err)
	}
	if err := g.dialer.DialAndSend(g.build(m)); err != nil {
		return fmt.Errorf("email: smtp send to %s: %w", m.To, err)
	}
	return nil
}

func (g *smtpGateway) TestConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sc, err := g.dialer.Dial()
	if err != nil {
		return fmt.Errorf("email: smtp dial %s:%d: %w", g.cfg.Host, g.cfg.Port, err)
	}
	return sc.Close()
}

func (g *smtpGateway) build(m Message) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", g.cfg.FromAddr, g.cfg.FromName)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetHeader("X-Priority", xPriority(m.Priority))
	if m.Campaign != "" {
		msg.SetHeader("X-Campaign", m.Campaign)
	}
	if m.LeadID != "" {
		msg.SetHeader("X-Lead-ID", m.LeadID)
	}

	if m.Text != "" {
		msg.SetBody("text/plain", m.Text)
		msg.AddAlternative("text/html", m.HTML)
	} else {
		msg.SetBody("text/html", m.HTML)
	}
	return msg
}
