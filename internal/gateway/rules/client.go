// Package rules talks to the account-rules authority: the remote,
// authoritative counterpart of the local risk evaluator. Its verdict always
// outranks a local one.
package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"propeval/internal/types"
)

// Metrics are the backend's own risk figures, reported for display.
type Metrics struct {
	Equity      float64 `json:"equity"`
	ProfitPct   float64 `json:"profit_pct"`
	DrawdownPct float64 `json:"drawdown_pct"`
}

// Verdict is the authoritative account state.
type Verdict struct {
	Status   types.AccountStatus `json:"status"`
	IsLocked bool                `json:"is_locked"`
	Metrics  Metrics             `json:"metrics"`
}

// Authority is the collaborator contract the engine depends on.
type Authority interface {
	Validate(ctx context.Context, challengeID string, livePrices map[string]float64) (Verdict, error)
}

// Config holds the authority endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the REST implementation of Authority.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
}

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("rules base url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing rules base url failed: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     strings.TrimSpace(cfg.APIKey),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) Validate(ctx context.Context, challengeID string, livePrices map[string]float64) (Verdict, error) {
	payload := struct {
		LivePrices map[string]float64 `json:"live_prices"`
	}{LivePrices: livePrices}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Verdict{}, fmt.Errorf("encoding validate request failed: %w", err)
	}

	target := c.baseURL.JoinPath(fmt.Sprintf("/challenges/%s/validate", url.PathEscape(challengeID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(raw))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, err
	}
	if resp.StatusCode >= 400 {
		return Verdict{}, fmt.Errorf("rules authority returned http %d", resp.StatusCode)
	}

	var v Verdict
	if err := json.Unmarshal(body, &v); err != nil {
		return Verdict{}, fmt.Errorf("decoding validate response failed: %w", err)
	}
	if v.Status == "" {
		return Verdict{}, fmt.Errorf("rules authority returned no status")
	}
	return v, nil
}
