package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultResendEndpoint = "https://api.resend.com"

// ResendConfig holds the Resend API settings. Endpoint and HTTPClient are
// optional.
type ResendConfig struct {
	APIKey     string
	FromAddr   string // e.g. "hello@consulting.example"
	FromName   string
	Endpoint   string
	HTTPClient *http.Client
}

// resendGateway is the Gateway backed by the Resend HTTP API.
type resendGateway struct {
	apiKey     string
	from       string
	endpoint   string
	httpClient *http.Client
}

// NewResendGateway returns a Gateway that delivers email via Resend.
func NewResendGateway(cfg ResendConfig) Gateway {
	g := &resendGateway{
		apiKey:     cfg.APIKey,
		from:       fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddr),
		endpoint:   cfg.Endpoint,
		httpClient: cfg.HTTPClient,
	}
	if g.endpoint == "" {
		g.endpoint = defaultResendEndpoint
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return g
}

// ─── RESEND API SHAPES ────────────────────────────────────────────────────────

type resendTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type resendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Tags    []resendTag       `json:"tags,omitempty"`
}

type resendResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Name       string `json:"name"`
		Message    string `json:"message"`
		StatusCode int    `json:"statusCode"`
	} `json:"error"`
}

// ─── GATEWAY IMPLEMENTATION ───────────────────────────────────────────────────

func (g *resendGateway) Send(ctx context.Context, m Message) error {
	if err := m.validate(); err != nil {
		return err
	}

	reqBody := resendRequest{
		From:    g.from,
		To:      []string{m.To},
		Subject: m.Subject,
		HTML:    m.HTML,
		Text:    m.Text,
		Headers: map[string]string{"X-Priority": xPriority(m.Priority)},
	}
	// Resend tag values allow only ASCII letters, digits, '_' and '-'.
	if m.Campaign != "" {
		reqBody.Tags = append(reqBody.Tags, resendTag{Name: "campaign", Value: m.Campaign})
	}
	if m.LeadID != "" {
		reqBody.Tags = append(reqBody.Tags, resendTag{Name: "lead_id", Value: m.LeadID})
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("email: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/emails", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("email: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBytes, status, err := g.do(req)
	if err != nil {
		return err
	}

	var parsed resendResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return fmt.Errorf("email: unmarshal response (status %d): %w", status, err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("email: Resend error %s: %s", parsed.Error.Name, parsed.Error.Message)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("email: unexpected status %d: %.200s", status, string(respBytes))
	}
	return nil
}

// TestConnection lists sending domains, which needs a valid API key and
// sends nothing.
func (g *resendGateway) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/domains", nil)
	if err != nil {
		return fmt.Errorf("email: build request: %w", err)
	}
	respBytes, status, err := g.do(req)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("email: connection test status %d: %.200s", status, string(respBytes))
	}
	return nil
}

func (g *resendGateway) do(req *http.Request) ([]byte, int, error) {
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("email: http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("email: read response: %w", err)
	}
	return respBytes, resp.StatusCode, nil
}
