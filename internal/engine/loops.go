package engine

import (
	"context"

	"propeval/internal/book"
	"propeval/internal/gateway/pricefeed"
	"propeval/internal/gateway/rules"
	"propeval/internal/logger"
	"propeval/internal/types"
	"propeval/internal/valuation"
)

// The scheduler runs these task methods on their own goroutines. Each one
// does its blocking collaborator calls outside the loop and feeds results
// back in as events, so the actor never waits on the network.

// PollActivePrice fetches the full tick for the challenge's active
// instrument. Short interval.
func (e *Engine) PollActivePrice(ctx context.Context) {
	if e.cfg.ActiveSymbol == "" {
		return
	}
	tick, err := e.feed.Tick(ctx, e.cfg.ActiveSymbol)
	if err != nil {
		logger.Debugf("engine: active price poll failed for %s: %v", e.cfg.ActiveSymbol, err)
		return
	}
	if err := e.send(envelope{kind: evtPriceUpdate, payload: tick}); err != nil {
		logger.Debugf("engine: dropping price update: %v", err)
	}
}

// PollOpenPrices fetches quotes for every other instrument with an open or
// pending position. Lower frequency than the active-instrument poll.
func (e *Engine) PollOpenPrices(ctx context.Context) {
	snap := e.Snapshot()
	seen := map[string]bool{e.cfg.ActiveSymbol: true}
	symbols := make([]string, 0, len(snap.Positions))
	for _, pos := range snap.Positions {
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			symbols = append(symbols, pos.Symbol)
		}
	}
	for _, p := range snap.Pending {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}

	for _, sym := range symbols {
		tick, err := e.feed.Quote(ctx, sym)
		if err != nil {
			logger.Debugf("engine: quote poll failed for %s: %v", sym, err)
			continue
		}
		if err := e.send(envelope{kind: evtPriceUpdate, payload: tick}); err != nil {
			return
		}
	}
}

// EvaluateRisk triggers one valuation + rule evaluation cycle.
func (e *Engine) EvaluateRisk(ctx context.Context) {
	_ = ctx
	if err := e.send(envelope{kind: evtRiskTick}); err != nil {
		logger.Debugf("engine: dropping risk tick: %v", err)
	}
}

// Resync re-fetches the authoritative ledger state and remote verdict. Both
// calls block here, off-loop; the loop applies whatever came back. A failed
// validation never transitions the account.
func (e *Engine) Resync(ctx context.Context) {
	res := &resyncResult{}

	trades, err := e.ledger.List(ctx, e.cfg.ChallengeID)
	if err != nil {
		logger.Warnf("engine: ledger resync failed: %v", err)
	} else {
		res.trades = trades
		res.tradesKnown = true
	}

	verdict, err := e.rules.Validate(ctx, e.cfg.ChallengeID, e.Snapshot().PriceMap())
	if err != nil {
		logger.Warnf("engine: remote validation failed, verdict stays local-advisory: %v", err)
	} else {
		res.verdict = verdict
		res.verdictKnown = true
	}

	if err := e.send(envelope{kind: evtResyncResult, payload: res}); err != nil {
		logger.Debugf("engine: dropping resync result: %v", err)
	}
}

type resyncResult struct {
	trades      []types.Trade
	tradesKnown bool

	verdict      rules.Verdict
	verdictKnown bool
}

func quoteFromTick(tick pricefeed.Tick) valuation.Quote {
	return valuation.Quote{
		Price:  tick.Price,
		Source: tick.Source,
		At:     tick.Timestamp,
	}
}

func valuate(st *state) types.LiveValuation {
	return valuation.Valuate(st.book.Positions, st.quotes, st.machine.Account())
}

func realizedFor(res book.Result, tradeID int64) float64 {
	for _, tag := range res.Tags {
		if tag.TradeID == tradeID && tag.Kind == book.TagClose {
			return tag.RealizedPnL
		}
	}
	return 0
}
