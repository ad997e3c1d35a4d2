package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/store"
	stripeinternal "github.com/nyashahama/consulting-leads-backend/internal/stripe"
)

// ─── POST /api/webhooks/stripe ────────────────────────────────────────────────

// handleStripeWebhook receives Stripe deliveries. A paid checkout session for
// a strategy call carries the booked meeting date in its metadata; the
// matching lead is marked as having scheduled a meeting.
//
// Stripe retries on non-2xx. Events we cannot act on (unknown types, unpaid
// sessions, unknown emails) are acked with 200 so they are not redelivered.
// Replays are safe: MeetingScheduled converges on the same lead state.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.stripe == nil || s.cfg.StripeWebhookSecret == "" {
		respondErr(w, http.StatusNotFound, "not found")
		return
	}

	// ── 1. Read and size-limit the body ───────────────────────────────────────
	// The signature check must run against the exact bytes Stripe signed.
	r.Body = http.MaxBytesReader(w, r.Body, 65536)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "could not read request body")
		return
	}

	// ── 2. Verify the Stripe-Signature header ─────────────────────────────────
	sig := r.Header.Get("Stripe-Signature")
	event, err := s.stripe.VerifyWebhook(payload, sig, s.cfg.StripeWebhookSecret)
	if err != nil {
		s.logger.Warn("webhook: invalid signature", "error", err, logField(r))
		respondErr(w, http.StatusBadRequest, "invalid webhook signature")
		return
	}
	webhookEventsTotal.WithLabelValues("stripe", event.Type).Inc()

	// ── 3. Dispatch ───────────────────────────────────────────────────────────
	if event.Type != stripeinternal.EventCheckoutCompleted {
		s.logger.Debug("webhook: ignoring event", "type", event.Type, "event_id", event.ID, logField(r))
		w.WriteHeader(http.StatusOK)
		return
	}

	booking, err := stripeinternal.ExtractCheckoutBooking(event)
	if errors.Is(err, stripeinternal.ErrNotPaid) || errors.Is(err, stripeinternal.ErrNoBooking) {
		s.logger.Info("webhook: checkout without booking", "reason", err, "event_id", event.ID, logField(r))
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		// Malformed payload: a retry would fail the same way.
		s.logger.Error("webhook: bad checkout payload", "error", err, "event_id", event.ID, logField(r))
		w.WriteHeader(http.StatusOK)
		return
	}

	l, err := s.leads.FindByEmail(r.Context(), booking.Email)
	if errors.Is(err, store.ErrLeadNotFound) {
		s.logger.Warn("webhook: booking for unknown lead", "session_id", booking.SessionID, logField(r))
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("stripe webhook: find lead: %w", err))
		return
	}

	if err := s.engine.MeetingScheduled(r.Context(), l.ID, booking.MeetingDate); err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("stripe webhook: meeting scheduled: %w", err))
		return
	}

	s.logger.Info("webhook: meeting booked",
		"lead_id", l.ID,
		"session_id", booking.SessionID,
		"meeting_date", booking.MeetingDate,
		logField(r),
	)
	w.WriteHeader(http.StatusOK)
}

// ─── POST /api/webhooks/email ────────────────────────────────────────────────

// Events accepted on the email webhook.
const (
	EventEmailReply       = "email_reply"
	EventMeetingScheduled = "meeting_scheduled"
	EventMeetingAttended  = "meeting_attended"
	EventMeetingMissed    = "meeting_missed"
	EventUnsubscribe      = "unsubscribe"
)

type emailWebhookRequest struct {
	Event       string     `json:"event"`
	Email       string     `json:"email"`
	MeetingDate *time.Time `json:"meetingDate,omitempty"`
}

// handleEmailWebhook receives reply and calendar notifications from the
// mailbox integration and maps them onto lead lifecycle operations.
func (s *Server) handleEmailWebhook(w http.ResponseWriter, r *http.Request) {
	var req emailWebhookRequest
	if !decode(w, r, &req) {
		return
	}
	req.Event = strings.TrimSpace(req.Event)
	if strings.TrimSpace(req.Email) == "" {
		respondErr(w, http.StatusUnprocessableEntity, "email is required")
		return
	}
	switch req.Event {
	case EventEmailReply, EventMeetingAttended, EventMeetingMissed, EventUnsubscribe:
	case EventMeetingScheduled:
		if req.MeetingDate == nil || req.MeetingDate.IsZero() {
			respondErr(w, http.StatusUnprocessableEntity, "meetingDate is required for meeting_scheduled")
			return
		}
	default:
		respondErr(w, http.StatusUnprocessableEntity, fmt.Sprintf("unknown event %q", req.Event))
		return
	}
	webhookEventsTotal.WithLabelValues("email", req.Event).Inc()

	l, err := s.leads.FindByEmail(r.Context(), req.Email)
	if err != nil {
		s.respondLeadErr(w, r, err)
		return
	}

	ctx := r.Context()
	switch req.Event {
	case EventEmailReply:
		err = s.engine.MarkResponded(ctx, l.ID, lead.ResponseEmailReply)
	case EventMeetingScheduled:
		err = s.engine.MeetingScheduled(ctx, l.ID, req.MeetingDate.UTC())
	case EventMeetingAttended:
		err = s.engine.MeetingAttended(ctx, l.ID)
	case EventMeetingMissed:
		err = s.engine.MeetingMissed(ctx, l.ID)
	case EventUnsubscribe:
		err = s.engine.Unsubscribe(ctx, l.ID)
	}
	if err != nil {
		s.respondLeadErr(w, r, fmt.Errorf("email webhook: %s: %w", req.Event, err))
		return
	}

	s.logger.Info("webhook: lead event", "event", req.Event, "lead_id", l.ID, logField(r))
	respond(w, http.StatusOK, map[string]any{"leadId": l.ID, "event": req.Event})
}
