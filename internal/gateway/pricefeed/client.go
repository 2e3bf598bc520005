package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"propeval/internal/pkg/circuit"
)

// Config holds the REST feed endpoint settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the challenge platform's REST price feed.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	breaker    *circuit.Breaker
}

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("price feed base url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing price feed base url failed: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuit.New("pricefeed", 5, 20*time.Second),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) Tick(ctx context.Context, symbol string) (Tick, error) {
	return c.get(ctx, symbol, fmt.Sprintf("/prices/%s/tick", url.PathEscape(symbol)))
}

func (c *Client) Quote(ctx context.Context, symbol string) (Tick, error) {
	return c.get(ctx, symbol, fmt.Sprintf("/prices/%s/quote", url.PathEscape(symbol)))
}

func (c *Client) get(ctx context.Context, symbol, path string) (Tick, error) {
	var tick Tick
	err := c.breaker.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.JoinPath(path).String(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNoQuote, symbol)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("price feed returned http %d for %s", resp.StatusCode, symbol)
		}

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &tick); err != nil {
			return fmt.Errorf("decoding price feed response failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return Tick{}, err
	}
	if tick.Price <= 0 {
		return Tick{}, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	if tick.Symbol == "" {
		tick.Symbol = symbol
	}
	if tick.Source == "" {
		tick.Source = SourceLive
	}
	if tick.Timestamp.IsZero() {
		tick.Timestamp = time.Now().UTC()
	}
	return tick, nil
}
