// Package book derives net positions and realized PnL from the ordered trade
// log. Rebuild is pure: it never mutates its input and identical sequences
// always produce identical output, so callers may re-run it at any time.
package book

import (
	"math"
	"sort"

	"propeval/internal/types"
)

// FlatTolerance is the absolute quantity below which a position counts as
// flat. Guards against float drift when closes net out an open exactly.
const FlatTolerance = 1e-6

// TagKind classifies a trade against the position that existed before it.
type TagKind string

const (
	TagOpen  TagKind = "OPEN"
	TagClose TagKind = "CLOSE"
)

// Tag is the per-trade classification attached during a rebuild. RealizedPnL
// and EntryAtClose are only meaningful for TagClose.
type Tag struct {
	TradeID      int64   `json:"trade_id"`
	Symbol       string  `json:"symbol"`
	Kind         TagKind `json:"kind"`
	RealizedPnL  float64 `json:"realized_pnl,omitempty"`
	EntryAtClose float64 `json:"entry_at_close,omitempty"`
}

// Result is a full rebuild of the position book. Positions only contains
// symbols with a non-flat net quantity; a flat symbol has no entry, which is
// how "no position" stays distinct from "entered at price 0".
type Result struct {
	Positions     map[string]types.Position
	Tags          []Tag
	RealizedTotal float64
}

// PositionFor returns the open position for symbol, if any.
func (r Result) PositionFor(symbol string) (types.Position, bool) {
	p, ok := r.Positions[symbol]
	return p, ok
}

type working struct {
	netQty float64
	avg    float64
}

// Rebuild replays the trade log in timestamp order (ties broken by id, so
// reordering an already-sorted input changes nothing) and returns the derived
// positions plus one Tag per trade.
func Rebuild(trades []types.Trade) Result {
	ordered := make([]types.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].ID < ordered[j].ID
	})

	book := make(map[string]*working)
	res := Result{
		Positions: make(map[string]types.Position),
		Tags:      make([]Tag, 0, len(ordered)),
	}

	for _, tr := range ordered {
		res.Tags = append(res.Tags, applyTrade(book, tr, &res.RealizedTotal))
	}

	for sym, w := range book {
		if math.Abs(w.netQty) < FlatTolerance {
			continue
		}
		res.Positions[sym] = types.Position{
			Symbol:        sym,
			NetQuantity:   w.netQty,
			AvgEntryPrice: w.avg,
		}
	}
	return res
}

func applyTrade(book map[string]*working, tr types.Trade, realizedTotal *float64) Tag {
	signed := tr.Quantity
	if tr.Side == types.SideSell {
		signed = -tr.Quantity
	}

	w, ok := book[tr.Symbol]
	if !ok {
		w = &working{}
		book[tr.Symbol] = w
	}

	// Classify using the position sign BEFORE the trade is applied.
	flat := math.Abs(w.netQty) < FlatTolerance
	adds := (w.netQty > 0 && tr.Side == types.SideBuy) || (w.netQty < 0 && tr.Side == types.SideSell)

	if flat || adds {
		openQty := math.Abs(w.netQty)
		newQty := w.netQty + signed
		if math.Abs(newQty) >= FlatTolerance {
			w.avg = (openQty*w.avg + tr.Quantity*tr.Price) / math.Abs(newQty)
		}
		w.netQty = newQty
		return Tag{TradeID: tr.ID, Symbol: tr.Symbol, Kind: TagOpen}
	}

	// Closing trade. Only the covered quantity realizes PnL; any excess flips
	// the sign and starts a fresh position at this trade's price.
	entry := w.avg
	covered := math.Min(tr.Quantity, math.Abs(w.netQty))
	var realized float64
	if w.netQty > 0 {
		realized = (tr.Price - entry) * covered
	} else {
		realized = (entry - tr.Price) * covered
	}
	*realizedTotal += realized

	w.netQty += signed
	switch {
	case math.Abs(w.netQty) < FlatTolerance:
		w.netQty = 0
		w.avg = 0
	case (w.netQty > 0) != (w.netQty-signed > 0):
		// Sign flipped: the remainder is a new position entered here.
		w.avg = tr.Price
	}

	return Tag{
		TradeID:      tr.ID,
		Symbol:       tr.Symbol,
		Kind:         TagClose,
		RealizedPnL:  realized,
		EntryAtClose: entry,
	}
}
