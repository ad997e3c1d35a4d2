// Package templates resolves template ids to render functions over a fixed
// data contract. Bodies are html/template files embedded in the binary; the
// resolver has no side effects.
package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"sort"
	"strings"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

//go:embed html/*.html
var htmlFS embed.FS

const layoutFile = "html/_layout.html"

// ErrTemplateNotFound is returned for ids the resolver does not know. Callers
// treat it as a send failure, never as a skip.
var ErrTemplateNotFound = errors.New("templates: template not found")

// ─── DATA CONTRACT ───────────────────────────────────────────────────────────

// Contact is the recipient block of the data contract.
type Contact struct {
	Name    string
	Email   string
	Company string
}

// Diagnostic is the quiz-result block of the data contract.
type Diagnostic struct {
	Score            float64
	Level            string
	PrimaryChallenge string
	QuickWins        []lead.QuickWin
	EstimatedROI     lead.EstimatedROI
}

// Data is everything a template body may read.
type Data struct {
	Contact    Contact
	Diagnostic Diagnostic

	// Links are filled by the sender; templates render them verbatim.
	BaseURL        string
	BookingURL     string
	UnsubscribeURL string
}

// DataFor builds the contract from a lead record.
func DataFor(l *lead.Lead) Data {
	d := l.Diagnostic
	return Data{
		Contact: Contact{Name: l.Name, Email: l.Email, Company: l.Company},
		Diagnostic: Diagnostic{
			Score:            d.Score,
			Level:            d.Level,
			PrimaryChallenge: d.PrimaryChallenge,
			QuickWins:        d.QuickWins,
			EstimatedROI:     d.EstimatedROI,
		},
	}
}

// RenderFunc renders one template body.
type RenderFunc func(Data) (string, error)

// ─── RESOLVER ────────────────────────────────────────────────────────────────

// Resolver holds one parsed template per id, each sharing the layout.
type Resolver struct {
	byID map[string]*template.Template
}

// New parses every embedded body. It fails if any body does not parse.
func New() (*Resolver, error) {
	layout, err := template.New("layout").Funcs(funcs).ParseFS(htmlFS, layoutFile)
	if err != nil {
		return nil, fmt.Errorf("templates: parse layout: %w", err)
	}

	entries, err := fs.ReadDir(htmlFS, "html")
	if err != nil {
		return nil, fmt.Errorf("templates: read dir: %w", err)
	}

	r := &Resolver{byID: make(map[string]*template.Template, len(entries))}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".html") {
			continue
		}
		t, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("templates: clone layout: %w", err)
		}
		if _, err := t.ParseFS(htmlFS, "html/"+name); err != nil {
			return nil, fmt.Errorf("templates: parse %s: %w", name, err)
		}
		r.byID[strings.TrimSuffix(name, ".html")] = t
	}
	return r, nil
}

// Resolve returns the render function for id.
func (r *Resolver) Resolve(id string) (RenderFunc, error) {
	t, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
	}
	return func(d Data) (string, error) {
		var buf bytes.Buffer
		if err := t.ExecuteTemplate(&buf, "layout", d); err != nil {
			return "", fmt.Errorf("templates: render %s: %w", id, err)
		}
		return buf.String(), nil
	}, nil
}

// Render resolves and renders in one call.
func (r *Resolver) Render(id string, d Data) (string, error) {
	fn, err := r.Resolve(id)
	if err != nil {
		return "", err
	}
	return fn(d)
}

// Has reports whether id resolves.
func (r *Resolver) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// IDs lists the known template ids in lexical order.
func (r *Resolver) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate returns an error naming every id in want that does not resolve.
// Run it at startup against the sequence catalog.
func (r *Resolver) Validate(want []string) error {
	var errs []error
	for _, id := range want {
		if !r.Has(id) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrTemplateNotFound, id))
		}
	}
	return errors.Join(errs...)
}

var funcs = template.FuncMap{
	"firstName": func(name string) string {
		if f := strings.Fields(name); len(f) > 0 {
			return f[0]
		}
		return "there"
	},
	"orDefault": func(def, s string) string {
		if strings.TrimSpace(s) == "" {
			return def
		}
		return s
	},
	"score": func(f float64) string { return fmt.Sprintf("%.0f", f) },
}
