package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/scheduler"
	"github.com/nyashahama/consulting-leads-backend/internal/sequencer"
)

// ─── METRICS ──────────────────────────────────────────────────────────────────

type metricsResponse struct {
	Leads     lead.Metrics         `json:"leads"`
	Sequencer sequencer.Stats      `json:"sequencer"`
	Scheduler []scheduler.JobStats `json:"scheduler"`
	Running   bool                 `json:"schedulerRunning"`
}

// GET /api/admin/metrics
func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.leads.GetMetrics(r.Context(), s.now())
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get metrics: %w", err))
		return
	}
	respond(w, http.StatusOK, metricsResponse{
		Leads:     m,
		Sequencer: s.engine.Stats(),
		Scheduler: s.scheduler.Stats(),
		Running:   s.scheduler.Running(),
	})
}

// DELETE /api/admin/metrics resets the in-process counters. Store-derived
// counts are not affected.
func (s *Server) handleResetMetrics(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetStats()
	s.scheduler.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

// ─── SCHEDULER ────────────────────────────────────────────────────────────────

// POST /api/admin/scheduler/start
func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	// The loops must outlive this request.
	err := s.scheduler.Start(context.WithoutCancel(r.Context()))
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		respondErr(w, http.StatusConflict, "scheduler already running")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	s.logger.Info("admin: scheduler started", logField(r))
	respond(w, http.StatusOK, map[string]bool{"running": true})
}

// POST /api/admin/scheduler/stop
func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Stop()
	s.logger.Info("admin: scheduler stopped", logField(r))
	respond(w, http.StatusOK, map[string]bool{"running": false})
}

// GET /api/admin/scheduler/metrics
func (s *Server) handleSchedulerMetrics(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"running": s.scheduler.Running(),
		"jobs":    s.scheduler.Stats(),
	})
}

// DELETE /api/admin/scheduler/metrics
func (s *Server) handleSchedulerResetMetrics(w http.ResponseWriter, r *http.Request) {
	s.scheduler.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/admin/scheduler/jobs/{job}/start
func (s *Server) handleJobStart(w http.ResponseWriter, r *http.Request) {
	s.jobAction(w, r, "start", s.scheduler.StartJob)
}

// POST /api/admin/scheduler/jobs/{job}/stop
func (s *Server) handleJobStop(w http.ResponseWriter, r *http.Request) {
	s.jobAction(w, r, "stop", s.scheduler.StopJob)
}

// POST /api/admin/scheduler/jobs/{job}/run triggers an out-of-band run and
// returns without waiting for it.
func (s *Server) handleJobRun(w http.ResponseWriter, r *http.Request) {
	s.jobAction(w, r, "run", s.scheduler.Trigger)
}

func (s *Server) jobAction(w http.ResponseWriter, r *http.Request, action string, fn func(string) error) {
	job := chi.URLParam(r, "job")
	err := fn(job)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		respondErr(w, http.StatusNotFound, fmt.Sprintf("unknown job %q", job))
	case errors.Is(err, scheduler.ErrNotRunning):
		respondErr(w, http.StatusConflict, "scheduler is not running")
	case errors.Is(err, scheduler.ErrJobRunning):
		respondErr(w, http.StatusConflict, fmt.Sprintf("job %q is already running", job))
	case errors.Is(err, scheduler.ErrStopping):
		respondErr(w, http.StatusConflict, "scheduler is stopping")
	case err != nil:
		s.respondInternalErr(w, r, err)
	default:
		s.logger.Info("admin: job "+action, "job", job, logField(r))
		status := http.StatusOK
		if action == "run" {
			status = http.StatusAccepted
		}
		respond(w, status, map[string]string{"job": job, "action": action})
	}
}

// ─── LEADS ────────────────────────────────────────────────────────────────────

type leadResponse struct {
	Lead   *lead.Lead          `json:"lead"`
	State  lead.State          `json:"state"`
	Due    []sequencer.DueStep `json:"due"`
	Emails []lead.EmailLog     `json:"emails"`
}

// GET /api/admin/leads/{leadID}
func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadIDParam(w, r)
	if !ok {
		return
	}
	l, err := s.leads.FindByID(r.Context(), id)
	if err != nil {
		s.respondLeadErr(w, r, err)
		return
	}
	logs, err := s.leads.ListEmailLogs(r.Context(), id)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("list email logs: %w", err))
		return
	}
	due := s.engine.DueSteps(l, s.now())
	if due == nil {
		due = []sequencer.DueStep{}
	}
	if logs == nil {
		logs = []lead.EmailLog{}
	}
	respond(w, http.StatusOK, leadResponse{
		Lead:   l,
		State:  s.engine.LeadState(l),
		Due:    due,
		Emails: logs,
	})
}

// GET /api/admin/leads/pending
func (s *Server) handlePendingLeads(w http.ResponseWriter, r *http.Request) {
	pending, err := s.engine.PendingLeads(r.Context())
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	if pending == nil {
		pending = []sequencer.PendingLead{}
	}
	respond(w, http.StatusOK, map[string]any{"count": len(pending), "leads": pending})
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

// POST /api/admin/leads/{leadID}/pause
func (s *Server) handlePauseLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadIDParam(w, r)
	if !ok {
		return
	}
	var req pauseRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if err := s.engine.PauseLead(r.Context(), id, strings.TrimSpace(req.Reason)); err != nil {
		s.respondLeadErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"leadId": id, "paused": true})
}

// POST /api/admin/leads/{leadID}/resume
func (s *Server) handleResumeLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadIDParam(w, r)
	if !ok {
		return
	}
	if err := s.engine.ResumeLead(r.Context(), id); err != nil {
		s.respondLeadErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"leadId": id, "paused": false})
}

type respondRequest struct {
	Type string `json:"type"`
}

// POST /api/admin/leads/{leadID}/respond records a reply logged by hand.
// Type defaults to email_reply.
func (s *Server) handleRespondLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadIDParam(w, r)
	if !ok {
		return
	}
	var req respondRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	switch req.Type {
	case "":
		req.Type = lead.ResponseEmailReply
	case lead.ResponseEmailReply, lead.ResponseMeeting:
	default:
		respondErr(w, http.StatusUnprocessableEntity, fmt.Sprintf("unknown response type %q", req.Type))
		return
	}
	if err := s.engine.MarkResponded(r.Context(), id, req.Type); err != nil {
		s.respondLeadErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"leadId": id, "responded": req.Type})
}
