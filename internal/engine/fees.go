package engine

import (
	"github.com/shopspring/decimal"
)

// estimateFee is the optimistic fee deduction applied before the ledger
// responds: basis points of notional, computed in decimal so repeated
// estimates stay consistent. The ledger-reported equity always replaces it.
func estimateFee(quantity, price, feeBps float64) float64 {
	if feeBps <= 0 || quantity <= 0 || price <= 0 {
		return 0
	}
	fee := decimal.NewFromFloat(quantity).
		Mul(decimal.NewFromFloat(price)).
		Mul(decimal.NewFromFloat(feeBps)).
		Div(decimal.NewFromInt(10000))
	f, _ := fee.Float64()
	return f
}

// projectedPnL is the expected realized PnL for closing a whole position at
// price. The signed net quantity makes one expression cover both sides.
func projectedPnL(netQuantity, avgEntry, price float64) float64 {
	pnl := decimal.NewFromFloat(price).
		Sub(decimal.NewFromFloat(avgEntry)).
		Mul(decimal.NewFromFloat(netQuantity))
	f, _ := pnl.Float64()
	return f
}
