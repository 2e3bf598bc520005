// Package valuation combines the position book with cached prices into a
// live equity figure. Pure; the engine calls it on every evaluation cycle.
package valuation

import (
	"sort"
	"time"

	"propeval/internal/types"
)

// Quote is one cached price observation for a symbol.
type Quote struct {
	Price  float64
	Source string
	At     time.Time
}

// Valuate computes per-symbol unrealized PnL and live equity. The net
// quantity is signed, so one formula covers longs and shorts. A symbol with
// no quote contributes zero and is flagged Stale, so callers can distinguish
// "no PnL" from "no data".
func Valuate(positions map[string]types.Position, quotes map[string]Quote, account types.Account) types.LiveValuation {
	symbols := make([]string, 0, len(positions))
	for sym := range positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	val := types.LiveValuation{
		Symbols:    make([]types.SymbolValuation, 0, len(symbols)),
		ComputedAt: time.Now().UTC(),
	}
	for _, sym := range symbols {
		pos := positions[sym]
		sv := types.SymbolValuation{Symbol: sym}
		q, ok := quotes[sym]
		if !ok || q.Price <= 0 {
			sv.Stale = true
		} else {
			sv.Price = q.Price
			sv.PriceSource = q.Source
			sv.QuotedAt = q.At
			sv.UnrealizedPnL = (q.Price - pos.AvgEntryPrice) * pos.NetQuantity
			val.UnrealizedTotal += sv.UnrealizedPnL
		}
		val.Symbols = append(val.Symbols, sv)
	}
	val.LiveEquity = account.Equity + val.UnrealizedTotal
	return val
}
