package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sentinelstack/sentinel-engine/internal/models"
	"github.com/sentinelstack/sentinel-engine/internal/orchestrator"
)

// HTTPProvider submits diagnosis requests to an external analysis service
// over JSON/HTTP. The service receives the triggering window plus score and
// answers with a free-text diagnosis.
type HTTPProvider struct {
	label      string
	endpoint   string
	authToken  string
	timeout    time.Duration
	httpClient *http.Client
}

// Options configures one HTTP diagnosis provider.
type Options struct {
	Label     string
	BaseURL   string
	Path      string
	AuthToken string
	Timeout   time.Duration
}

// NewHTTP constructs a provider from static configuration.
func NewHTTP(opts Options) (*HTTPProvider, error) {
	if opts.Label == "" {
		return nil, fmt.Errorf("provider label is required")
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: base URL is required", opts.Label)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	endpoint, err := resolveEndpoint(opts.BaseURL, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", opts.Label, err)
	}
	return &HTTPProvider{
		label:     opts.Label,
		endpoint:  endpoint,
		authToken: opts.AuthToken,
		timeout:   opts.Timeout,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

// Label identifies the provider in results and logs.
func (p *HTTPProvider) Label() string { return p.label }

// Timeout bounds one Submit call.
func (p *HTTPProvider) Timeout() time.Duration { return p.timeout }

// Submit posts the request and extracts the diagnosis text. A well-formed
// reply without usable text maps to ErrInvalidResponse so the orchestrator
// can distinguish it from an unreachable service.
func (p *HTTPProvider) Submit(ctx context.Context, req models.DiagnosisRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned %s", p.label, resp.Status)
	}

	var reply struct {
		Diagnosis string `json:"diagnosis"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("%w: decode reply: %v", orchestrator.ErrInvalidResponse, err)
	}
	if strings.TrimSpace(reply.Diagnosis) == "" {
		return "", fmt.Errorf("%w: empty diagnosis from %s", orchestrator.ErrInvalidResponse, p.label)
	}
	return reply.Diagnosis, nil
}

func resolveEndpoint(baseURL, p string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	if p == "" {
		p = "/v1/diagnose"
	}
	u.Path = path.Join(u.Path, "/"+strings.TrimLeft(p, "/"))
	return u.String(), nil
}
