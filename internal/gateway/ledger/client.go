// Package ledger talks to the backend trade ledger: the exclusive owner of
// the canonical trade sequence and realized equity.
package ledger

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

	"github.com/tidwall/gjson"

	"propeval/internal/pkg/circuit"
	"propeval/internal/types"
)

// Ledger is the collaborator contract the engine depends on.
type Ledger interface {
	Place(ctx context.Context, req PlaceRequest) (PlaceResult, error)
	List(ctx context.Context, challengeID string) ([]types.Trade, error)
	Fetch(ctx context.Context, challengeID string) (ChallengeState, error)
}

// PlaceRequest is one trade intent. CorrelationID deduplicates retries: the
// backend treats a replayed id as the original submission, not a second
// economic event.
type PlaceRequest struct {
	ChallengeID   string     `json:"-"`
	CorrelationID string     `json:"correlation_id"`
	Symbol        string     `json:"symbol"`
	Side          types.Side `json:"side"`
	Quantity      float64    `json:"quantity"`
	Price         float64    `json:"price"`
}

// PlaceResult is the authoritative outcome of a placement.
type PlaceResult struct {
	Trade     types.Trade         `json:"trade"`
	NewEquity float64             `json:"new_equity"`
	Status    types.AccountStatus `json:"status"`
	Duplicate bool                `json:"duplicate,omitempty"`
}

// ChallengeState is the account snapshot served alongside the trade list.
type ChallengeState struct {
	Account types.Account `json:"account"`
	Trades  []types.Trade `json:"trades"`
}

// Config holds the ledger endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the REST implementation of Ledger.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	breaker    *circuit.Breaker
}

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("ledger base url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing ledger base url failed: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     strings.TrimSpace(cfg.APIKey),
		breaker:    circuit.New("ledger", 5, 30*time.Second),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Place submits a trade intent. The correlation id travels both in the body
// and as an Idempotency-Key header so proxies can dedupe too.
func (c *Client) Place(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	var res PlaceResult
	path := fmt.Sprintf("/challenges/%s/trades", url.PathEscape(req.ChallengeID))
	headers := map[string]string{"Idempotency-Key": req.CorrelationID}
	err := c.breaker.Do(func() error {
		return c.doRequest(ctx, http.MethodPost, path, headers, req, &res)
	})
	if err != nil {
		return PlaceResult{}, err
	}
	return res, nil
}

// List fetches the ordered canonical trade log.
func (c *Client) List(ctx context.Context, challengeID string) ([]types.Trade, error) {
	var state ChallengeState
	path := fmt.Sprintf("/challenges/%s/trades", url.PathEscape(challengeID))
	err := c.breaker.Do(func() error {
		return c.doRequest(ctx, http.MethodGet, path, nil, nil, &state)
	})
	if err != nil {
		return nil, err
	}
	return state.Trades, nil
}

// Fetch returns the full authoritative challenge state (account + trades),
// used on startup recovery to hydrate the account before trading resumes.
func (c *Client) Fetch(ctx context.Context, challengeID string) (ChallengeState, error) {
	var state ChallengeState
	path := fmt.Sprintf("/challenges/%s", url.PathEscape(challengeID))
	err := c.breaker.Do(func() error {
		return c.doRequest(ctx, http.MethodGet, path, nil, nil, &state)
	})
	if err != nil {
		return ChallengeState{}, err
	}
	return state, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, headers map[string]string, payload, out any) error {
	target := c.baseURL.JoinPath(path)

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding ledger request failed: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return apiErrorFromBody(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding ledger response failed: %w", err)
	}
	return nil
}

// apiErrorFromBody pulls the error code out of whatever shape the backend
// returned. gjson tolerates both {"error":{"code":...}} and flat {"code":...}
// payloads.
func apiErrorFromBody(status int, body []byte) error {
	code := gjson.GetBytes(body, "error.code").String()
	if code == "" {
		code = gjson.GetBytes(body, "code").String()
	}
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "message").String()
	}
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status)
	}
	return &APIError{Code: code, Message: msg, HTTPStatus: status}
}
