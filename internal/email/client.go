// Package email defines the delivery gateway the sequencer sends through and
// provides SMTP (gomail), Resend, and log-only implementations.
package email

import (
	"context"
	"errors"
	"strings"
)

// Message is one rendered email ready for delivery.
type Message struct {
	To       string
	Subject  string
	HTML     string
	Text     string // optional plain-text alternative
	Priority string // "high" | "normal" | "low"
	Campaign string // sequence id
	LeadID   string
}

// Gateway is the interface the sequencer and notifier use to send email.
// A nil error from Send means the provider accepted the message; any error
// is a delivery failure. Tests inject a stub.
type Gateway interface {
	Send(ctx context.Context, m Message) error

	// TestConnection checks that the provider is reachable with the
	// configured credentials. Used by health checks.
	TestConnection(ctx context.Context) error
}

// ErrInvalidMessage is returned before any network call when a message is
// missing a recipient or subject.
var ErrInvalidMessage = errors.New("email: invalid message")

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.Join(ErrInvalidMessage, errors.New("recipient is empty"))
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.Join(ErrInvalidMessage, errors.New("subject is empty"))
	}
	return nil
}

// xPriority maps a message priority onto the X-Priority header value.
func xPriority(p string) string {
	switch p {
	case "high":
		return "1 (Highest)"
	case "low":
		return "5 (Lowest)"
	default:
		return "3 (Normal)"
	}
}
