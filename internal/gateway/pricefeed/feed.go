// Package pricefeed obtains canonical current prices for instruments. Two
// implementations exist: the challenge platform's REST feed and a
// Binance-backed feed for crypto instruments.
package pricefeed

import (
	"context"
	"errors"
	"time"
)

// Price sources, surfaced to the display layer but never acted on.
const (
	SourceLive     = "live"
	SourceFallback = "fallback"
)

// ErrNoQuote means the feed has no usable price for the symbol right now.
// Valuation treats the position as stale, never as flat.
var ErrNoQuote = errors.New("no quote available")

// Candle is an OHLC aggregate; its close is the canonical tick price.
type Candle struct {
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
	Start time.Time `json:"start"`
}

// Tick is one price observation for an instrument.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Candle    *Candle   `json:"candle,omitempty"`
	Source    string    `json:"source"`
}

// Feed is the collaborator contract. Tick returns the full observation with
// its candle; Quote is the cheaper price-only call used for the
// lower-frequency open-position poll.
type Feed interface {
	Tick(ctx context.Context, symbol string) (Tick, error)
	Quote(ctx context.Context, symbol string) (Tick, error)
}
