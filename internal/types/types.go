package types

import (
	"time"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the inverse side, used when closing a position.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Trade is one confirmed entry of the ledger's append-only trade log.
// Immutable once confirmed.
type Trade struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingTrade is an unconfirmed trade overlaid on the working log while the
// ledger round-trip is in flight. It never outlives the round-trip: it is
// either replaced by the confirmed Trade or rolled back.
type PendingTrade struct {
	Trade
	CorrelationID string    `json:"correlation_id"`
	SubmittedAt   time.Time `json:"submitted_at"`

	// ProjectedPnL carries the expected realized PnL for a close intent,
	// computed from the still-valid average entry price. Zero for opens.
	ProjectedPnL float64 `json:"projected_pnl,omitempty"`
}

// AccountStatus is the challenge lifecycle state. PASSED and FAILED are
// terminal; no transition ever leaves them.
type AccountStatus string

const (
	StatusActive AccountStatus = "ACTIVE"
	StatusPassed AccountStatus = "PASSED"
	StatusFailed AccountStatus = "FAILED"
)

func (s AccountStatus) Terminal() bool {
	return s == StatusPassed || s == StatusFailed
}

// Account holds the backend-authoritative challenge account. Equity is the
// realized balance only; unrealized PnL lives in LiveValuation.
type Account struct {
	ChallengeID     string        `json:"challenge_id"`
	StartBalance    float64       `json:"start_balance"`
	Equity          float64       `json:"equity"`
	Status          AccountStatus `json:"status"`
	ProfitTargetPct float64       `json:"profit_target_pct"`
	MaxDrawdownPct  float64       `json:"max_drawdown_pct"`
}

// CanTrade reports whether new submissions are accepted. PASSED accounts may
// keep trading; FAILED accounts are locked for good.
func (a Account) CanTrade() bool {
	return a.Status != StatusFailed
}

// Position is the derived per-symbol net position. It is never stored, only
// rebuilt from the ordered trade log. A flat symbol has no Position at all,
// so an undefined entry price can never be mistaken for "entered at 0".
type Position struct {
	Symbol        string  `json:"symbol"`
	NetQuantity   float64 `json:"net_quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
}

// Long reports the side of the position. Callers must not ask on a flat one.
func (p Position) Long() bool {
	return p.NetQuantity > 0
}

// SymbolValuation is the per-symbol slice of a LiveValuation. Stale means the
// price feed had no usable quote; the symbol then contributes zero and the
// caller must not read that as flat.
type SymbolValuation struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	PriceSource   string    `json:"price_source,omitempty"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Stale         bool      `json:"stale"`
	QuotedAt      time.Time `json:"quoted_at,omitempty"`
}

// LiveValuation is ephemeral: recomputed on every evaluation cycle, never
// persisted.
type LiveValuation struct {
	Symbols         []SymbolValuation `json:"symbols"`
	UnrealizedTotal float64           `json:"unrealized_total"`
	LiveEquity      float64           `json:"live_equity"`
	ComputedAt      time.Time         `json:"computed_at"`
}
