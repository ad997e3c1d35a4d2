package templates_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/sequence"
	"github.com/nyashahama/consulting-leads-backend/internal/templates"
)

func sampleData() templates.Data {
	return templates.DataFor(&lead.Lead{
		Name:    "Ana Souza",
		Email:   "ana@acme.test",
		Company: "Acme <Ops>",
		Diagnostic: lead.DiagnosticData{
			Score:            62,
			Level:            "developing",
			PrimaryChallenge: "manual reporting",
			QuickWins: []lead.QuickWin{
				{Action: "Automate the weekly report", Description: "Pull it from the CRM."},
			},
			EstimatedROI: lead.EstimatedROI{TimeToValueDays: 45, ExpectedReturnPct: 180},
		},
	})
}

func TestResolver_EveryCatalogTemplateResolves(t *testing.T) {
	r, err := templates.New()
	require.NoError(t, err)
	cat, err := sequence.LoadBuiltin()
	require.NoError(t, err)

	require.NoError(t, r.Validate(cat.Templates()))

	for _, id := range cat.Templates() {
		t.Run(id, func(t *testing.T) {
			html, err := r.Render(id, sampleData())
			require.NoError(t, err)
			assert.Contains(t, html, "Hi Ana,")
			assert.Contains(t, html, "<!DOCTYPE html>")
		})
	}
}

func TestResolver_UnknownTemplate(t *testing.T) {
	r, err := templates.New()
	require.NoError(t, err)

	_, err = r.Resolve("diagnostic_day99")
	assert.True(t, errors.Is(err, templates.ErrTemplateNotFound))
	assert.False(t, r.Has("diagnostic_day99"))

	err = r.Validate([]string{"diagnostic_day0", "missing_one"})
	assert.True(t, errors.Is(err, templates.ErrTemplateNotFound))
}

func TestResolver_LayoutIsNotATemplate(t *testing.T) {
	r, err := templates.New()
	require.NoError(t, err)
	assert.NotContains(t, r.IDs(), "_layout")
}

func TestRender_DataContract(t *testing.T) {
	r, err := templates.New()
	require.NoError(t, err)

	d := sampleData()
	d.UnsubscribeURL = "https://example.test/api/unsubscribe/abc"

	html, err := r.Render("diagnostic_day0", d)
	require.NoError(t, err)
	assert.Contains(t, html, "62/100")
	assert.Contains(t, html, "developing")
	assert.Contains(t, html, "manual reporting")
	assert.Contains(t, html, "Automate the weekly report")
	assert.Contains(t, html, "Acme &lt;Ops&gt;", "company must be escaped")
	assert.Contains(t, html, "https://example.test/api/unsubscribe/abc")

	html, err = r.Render("diagnostic_day5", d)
	require.NoError(t, err)
	assert.Contains(t, html, "45 days")
	assert.Contains(t, html, "180%")
}

func TestRender_IsPure(t *testing.T) {
	r, err := templates.New()
	require.NoError(t, err)

	fn, err := r.Resolve("diagnostic_day2")
	require.NoError(t, err)
	a, err := fn(sampleData())
	require.NoError(t, err)
	b, err := fn(sampleData())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRender_MissingCompanyFallsBack(t *testing.T) {
	r, err := templates.New()
	require.NoError(t, err)

	d := sampleData()
	d.Contact.Company = ""
	html, err := r.Render("diagnostic_day10", d)
	require.NoError(t, err)
	assert.Contains(t, html, "If your team wants")
}
