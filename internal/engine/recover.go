package engine

import (
	"context"

	"propeval/internal/logger"
	"propeval/internal/risk"
)

// Recover hydrates the engine's state before the actor loop starts: the
// authoritative account and trade log from the ledger, falling back to the
// local journal when the backend is unreachable, plus the remote account
// verdict. Must be called before Start.
func (e *Engine) Recover(ctx context.Context) error {
	remote, err := e.ledger.Fetch(ctx, e.cfg.ChallengeID)
	switch {
	case err == nil:
		e.st.trades = remote.Trades
		e.st.machine.Hydrate(remote.Account)
		if e.store != nil {
			if jerr := e.store.ReplaceTrades(ctx, remote.Trades); jerr != nil {
				logger.Warnf("engine: journal sync during recovery failed: %v", jerr)
			}
		}
	case e.store != nil:
		logger.Warnf("engine: ledger unreachable during recovery, using journal: %v", err)
		journaled, jerr := e.store.ListTrades(ctx)
		if jerr != nil {
			return err
		}
		e.st.trades = journaled
	default:
		return err
	}
	e.st.rebuild()

	verdict, err := e.rules.Validate(ctx, e.cfg.ChallengeID, nil)
	if err != nil {
		logger.Warnf("engine: remote validation during recovery failed, account stays as hydrated: %v", err)
	} else {
		e.st.applyAuthoritativeEquity(verdict.Metrics.Equity)
		e.st.machine.Apply(risk.VerdictNone, verdict.Status, true)
	}

	e.st.val = valuate(e.st)
	e.refreshSnapshot()
	logger.Infof("engine: recovery complete, %d trades, %d open positions, status=%s",
		len(e.st.trades), len(e.st.book.Positions), e.st.machine.Account().Status)
	return nil
}
