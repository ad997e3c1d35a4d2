package api

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/nyashahama/consulting-leads-backend/internal/store"
)

const pageHead = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Unsubscribe</title></head>
<body style="font-family:sans-serif;max-width:480px;margin:60px auto;color:#222">
`

var confirmUnsubscribePage = template.Must(template.New("confirm").Parse(pageHead + `<h1>Stop follow-up emails?</h1>
<p>{{if .Name}}Hi {{.Name}}, confirm{{else}}Confirm{{end}} below and we won't send you any more follow-ups.</p>
<form method="post" action="{{.Action}}">
<button type="submit">Unsubscribe</button>
</form>
</body>
</html>`))

var unsubscribedPage = template.Must(template.New("unsubscribed").Parse(pageHead + `<h1>You're unsubscribed</h1>
<p>{{if .Name}}Thanks, {{.Name}}. {{end}}You won't receive any more follow-up emails from us.</p>
</body>
</html>`))

type unsubscribeView struct {
	Name   string
	Action string
}

// ─── GET|POST /api/unsubscribe/{leadID} ──────────────────────────────────────

// handleUnsubscribe renders a confirmation form on GET, so link scanners
// that prefetch the URL change nothing. POST pauses the lead permanently;
// one-click List-Unsubscribe-Post clients land here too. Repeating the POST
// is harmless.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := leadIDParam(w, r)
	if !ok {
		return
	}

	l, err := s.leads.FindByID(r.Context(), id)
	if errors.Is(err, store.ErrLeadNotFound) {
		http.Error(w, "This unsubscribe link is not valid.", http.StatusNotFound)
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}

	view := unsubscribeView{Name: l.Name, Action: r.URL.Path}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.Method != http.MethodPost {
		_ = confirmUnsubscribePage.Execute(w, view)
		return
	}

	if err := s.engine.Unsubscribe(r.Context(), id); err != nil {
		w.Header().Del("Content-Type")
		s.respondLeadErr(w, r, err)
		return
	}
	s.logger.Info("lead unsubscribed", "lead_id", id, logField(r))
	_ = unsubscribedPage.Execute(w, view)
}
