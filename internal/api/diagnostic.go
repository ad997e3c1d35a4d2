package api

import (
	"errors"
	"net/http"

	"github.com/nyashahama/consulting-leads-backend/internal/intake"
)

// ─── POST /api/diagnostic ────────────────────────────────────────────────────

// handleDiagnostic stores a completed diagnostic and sends whatever steps are
// due immediately. A new lead answers 201, a resubmission 200. Delivery
// failures are reported in the body, never as an HTTP error.
func (s *Server) handleDiagnostic(w http.ResponseWriter, r *http.Request) {
	var sub intake.Submission
	if !decode(w, r, &sub) {
		return
	}

	res, err := s.intake.Submit(r.Context(), sub)
	var verr intake.ValidationErrors
	switch {
	case errors.As(err, &verr):
		respond(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation failed",
			"fields": verr,
		})
		return
	case err != nil:
		s.respondInternalErr(w, r, err)
		return
	}

	status := http.StatusOK
	if res.IsNewLead {
		status = http.StatusCreated
	}
	s.logger.Info("diagnostic: submitted",
		"lead_id", res.LeadID,
		"new_lead", res.IsNewLead,
		"sent", res.Sent,
		"failed", res.Failed,
		logField(r),
	)
	respond(w, status, res)
}
