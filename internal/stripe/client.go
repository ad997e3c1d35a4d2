// Package stripe verifies Stripe webhooks and extracts the strategy-call
// bookings the lead pipeline reacts to. A paid booking becomes a
// meeting_scheduled signal for the sequencer.
package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// ─── TYPES ────────────────────────────────────────────────────────────────────

// Event types the webhook handler acts on.
const (
	EventCheckoutCompleted = "checkout.session.completed"
)

// Event is a parsed Stripe webhook event. DataRaw contains the raw JSON of the
// event's data.object so handlers can unmarshal only what they need.
type Event struct {
	ID      string
	Type    string
	DataRaw json.RawMessage
}

// Booking is a paid strategy call taken from a checkout session.
type Booking struct {
	SessionID   string
	Email       string
	MeetingDate time.Time
}

var (
	// ErrNotPaid is returned for checkout sessions that have not been paid.
	ErrNotPaid = errors.New("stripe: checkout session not paid")

	// ErrNoBooking is returned when a session carries no meeting_date
	// metadata; it was not a strategy-call purchase.
	ErrNoBooking = errors.New("stripe: checkout session has no meeting booking")
)

// ─── CLIENT ───────────────────────────────────────────────────────────────────

// Client verifies webhook payloads. Tests inject a stub.
type Client interface {
	// VerifyWebhook validates the Stripe-Signature header and returns the
	// parsed event. Returns an error if the signature is invalid or expired.
	VerifyWebhook(payload []byte, sigHeader string, secret string) (Event, error)
}

type stripeClient struct{}

// NewClient returns a Client backed by the stripe-go webhook package.
func NewClient() Client {
	return stripeClient{}
}

// VerifyWebhook validates the signature within the SDK's default tolerance
// window. The event's API version is not pinned to the SDK's.
func (stripeClient) VerifyWebhook(payload []byte, sigHeader string, secret string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("stripe: webhook verification failed: %w", err)
	}
	return Event{
		ID:      ev.ID,
		Type:    string(ev.Type),
		DataRaw: ev.Data.Raw,
	}, nil
}

// ─── HELPERS USED BY api/ ────────────────────────────────────────────────────

// ExtractCheckoutBooking reads a checkout.session.completed object. The
// customer email comes from customer_details, falling back to
// customer_email; the meeting time from metadata.meeting_date (RFC 3339).
func ExtractCheckoutBooking(event Event) (Booking, error) {
	var obj struct {
		ID              string `json:"id"`
		PaymentStatus   string `json:"payment_status"`
		CustomerEmail   string `json:"customer_email"`
		CustomerDetails *struct {
			Email string `json:"email"`
		} `json:"customer_details"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.DataRaw, &obj); err != nil {
		return Booking{}, fmt.Errorf("stripe: unmarshal checkout session: %w", err)
	}
	if obj.PaymentStatus != "paid" {
		return Booking{}, fmt.Errorf("%w: %s is %q", ErrNotPaid, obj.ID, obj.PaymentStatus)
	}

	raw := strings.TrimSpace(obj.Metadata["meeting_date"])
	if raw == "" {
		return Booking{}, fmt.Errorf("%w: %s", ErrNoBooking, obj.ID)
	}
	date, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return Booking{}, fmt.Errorf("stripe: meeting_date on %s: %w", obj.ID, err)
	}

	email := obj.CustomerEmail
	if obj.CustomerDetails != nil && obj.CustomerDetails.Email != "" {
		email = obj.CustomerDetails.Email
	}
	if email == "" {
		return Booking{}, fmt.Errorf("stripe: no customer email on checkout session %s", obj.ID)
	}

	return Booking{SessionID: obj.ID, Email: email, MeetingDate: date.UTC()}, nil
}
