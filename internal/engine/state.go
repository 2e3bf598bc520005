package engine

import (
	"sort"

	"propeval/internal/account"
	"propeval/internal/book"
	"propeval/internal/risk"
	"propeval/internal/types"
	"propeval/internal/valuation"
)

// Pending trades get synthetic ids above this floor so they sort after every
// confirmed trade when timestamps tie during a rebuild.
const pendingIDFloor = int64(1) << 62

// state is the single shared mutable bundle: trade log, pending overlay,
// derived book, cached quotes, account. Only the actor loop touches it, which
// is what keeps price updates, confirmations and verdicts from racing each
// other over equity and status.
type state struct {
	trades  []types.Trade
	pending map[string]*pendingEntry
	machine *account.Machine

	quotes     map[string]valuation.Quote
	book       book.Result
	val        types.LiveValuation
	assessment risk.Assessment
	warnings   []risk.Warning

	nextPendingSeq int64

	// equityEpoch increments on every equity write, so a rollback can tell
	// whether its pre-submit snapshot is still the latest word on equity.
	equityEpoch int64
}

type pendingEntry struct {
	trade        types.PendingTrade
	equityBefore float64
	feeEstimate  float64
	epoch        int64
	resCh        chan submitOutcome
}

func newState(machine *account.Machine) *state {
	return &state{
		pending: make(map[string]*pendingEntry),
		machine: machine,
		quotes:  make(map[string]valuation.Quote),
	}
}

// workingLog is the confirmed log plus the optimistic overlay.
func (s *state) workingLog() []types.Trade {
	log := make([]types.Trade, 0, len(s.trades)+len(s.pending))
	log = append(log, s.trades...)
	for _, p := range s.pending {
		log = append(log, p.trade.Trade)
	}
	return log
}

func (s *state) rebuild() {
	s.book = book.Rebuild(s.workingLog())
}

func (s *state) writeEquity(v float64) {
	s.machine.SetEquity(v)
	s.equityEpoch++
}

// applyAuthoritativeEquity replaces equity with a backend-reported figure and
// re-applies the fee estimates of submissions still in flight, so the working
// equity keeps its optimistic deductions.
func (s *state) applyAuthoritativeEquity(v float64) {
	for _, p := range s.pending {
		v -= p.feeEstimate
	}
	s.writeEquity(v)
}

// releaseEquity undoes one pending entry's optimistic fee deduction. When
// nothing else has written equity since the deduction, the pre-submit
// snapshot is restored verbatim. Otherwise only this entry's own fee is
// compensated, so a ledger-confirmed figure written in between survives.
func (s *state) releaseEquity(p *pendingEntry) {
	if s.equityEpoch == p.epoch {
		s.writeEquity(p.equityBefore)
		return
	}
	s.writeEquity(s.machine.Account().Equity + p.feeEstimate)
}

func (s *state) hasTrade(id int64) bool {
	for _, tr := range s.trades {
		if tr.ID == id {
			return true
		}
	}
	return false
}

// Snapshot is the read-only view served to the display layer. Built inside
// the loop, published through an atomic.Value, read lock-free.
type Snapshot struct {
	Account     types.Account        `json:"account"`
	Positions   []types.Position     `json:"positions"`
	Pending     []types.PendingTrade `json:"pending,omitempty"`
	Trades      []types.Trade        `json:"trades"`
	Tags        []book.Tag           `json:"tags"`
	Valuation   types.LiveValuation  `json:"valuation"`
	Assessment  risk.Assessment      `json:"assessment"`
	Provisional bool                 `json:"provisional"`
	Warnings    []risk.Warning       `json:"warnings,omitempty"`

	// Quotes is the full price cache, active instrument included, whether or
	// not a position is open on it.
	Quotes map[string]valuation.Quote `json:"quotes,omitempty"`
}

// TradingLocked reports whether submissions would be rejected.
func (s Snapshot) TradingLocked() bool {
	return !s.Account.CanTrade()
}

// PriceMap returns the non-stale prices backing the current valuation,
// keyed by symbol. This is what gets reported to the rules authority.
func (s Snapshot) PriceMap() map[string]float64 {
	prices := make(map[string]float64, len(s.Valuation.Symbols))
	for _, sv := range s.Valuation.Symbols {
		if !sv.Stale && sv.Price > 0 {
			prices[sv.Symbol] = sv.Price
		}
	}
	return prices
}

func (s *state) snapshot() *Snapshot {
	snap := &Snapshot{
		Account:     s.machine.Account(),
		Valuation:   s.val,
		Assessment:  s.assessment,
		Provisional: len(s.pending) > 0,
	}

	snap.Positions = make([]types.Position, 0, len(s.book.Positions))
	for _, pos := range s.book.Positions {
		snap.Positions = append(snap.Positions, pos)
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].Symbol < snap.Positions[j].Symbol
	})

	for _, p := range s.pending {
		snap.Pending = append(snap.Pending, p.trade)
	}
	sort.Slice(snap.Pending, func(i, j int) bool {
		return snap.Pending[i].CorrelationID < snap.Pending[j].CorrelationID
	})

	snap.Trades = make([]types.Trade, len(s.trades))
	copy(snap.Trades, s.trades)
	snap.Tags = make([]book.Tag, len(s.book.Tags))
	copy(snap.Tags, s.book.Tags)
	snap.Warnings = make([]risk.Warning, len(s.warnings))
	copy(snap.Warnings, s.warnings)
	snap.Quotes = make(map[string]valuation.Quote, len(s.quotes))
	for sym, q := range s.quotes {
		snap.Quotes[sym] = q
	}
	return snap
}
