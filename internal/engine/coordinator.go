package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"propeval/internal/gateway/ledger"
	"propeval/internal/logger"
	"propeval/internal/risk"
	"propeval/internal/types"
)

// Local rejections: caught before any network call.
var (
	ErrTradingLocked = errors.New("trading locked: challenge failed")
	ErrInvalidIntent = errors.New("invalid trade intent")
	ErrNoPrice       = errors.New("no current price for instrument")
	ErrNoPosition    = errors.New("no open position")
)

// Intent is a user-initiated trade request.
type Intent struct {
	Symbol   string     `json:"symbol"`
	Side     types.Side `json:"side"`
	Quantity float64    `json:"quantity"`
}

func (in Intent) validate() error {
	if in.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidIntent)
	}
	if !in.Side.Valid() {
		return fmt.Errorf("%w: side must be BUY or SELL", ErrInvalidIntent)
	}
	if in.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidIntent)
	}
	return nil
}

type submitRequest struct {
	intent    Intent
	closeOf   *types.Position // set for the close-position variant
	resCh     chan submitOutcome
	submitted time.Time
}

type submitOutcome struct {
	trade types.Trade
	err   error
}

type submitResult struct {
	correlationID string
	res           ledger.PlaceResult
	err           error
}

func (p *pendingEntry) reply(out submitOutcome) {
	if p.resCh == nil {
		return
	}
	p.resCh <- out
	p.resCh = nil
}

// Submit runs the optimistic-then-reconcile execution cycle: apply the trade
// to the working state immediately, send it to the ledger, and either confirm
// or roll back when the outcome arrives. Blocks until the round-trip settles
// or ctx expires; the in-flight submission itself is bounded by the
// configured submit timeout either way.
func (e *Engine) Submit(ctx context.Context, intent Intent) (types.Trade, error) {
	req := &submitRequest{intent: intent, resCh: make(chan submitOutcome, 1), submitted: time.Now()}
	return e.await(ctx, req)
}

// ClosePosition is the close variant of Submit: quantity is the full open
// net quantity and side is inverted from the position's sign. The pending
// trade carries a projected realized PnL so the user sees an expected result
// before the ledger confirms the real one.
func (e *Engine) ClosePosition(ctx context.Context, symbol string) (types.Trade, error) {
	snap := e.Snapshot()
	var pos *types.Position
	for i := range snap.Positions {
		if snap.Positions[i].Symbol == symbol {
			pos = &snap.Positions[i]
			break
		}
	}
	if pos == nil {
		return types.Trade{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}

	side := types.SideSell
	if !pos.Long() {
		side = types.SideBuy
	}
	req := &submitRequest{
		intent: Intent{
			Symbol:   symbol,
			Side:     side,
			Quantity: math.Abs(pos.NetQuantity),
		},
		closeOf:   pos,
		resCh:     make(chan submitOutcome, 1),
		submitted: time.Now(),
	}
	return e.await(ctx, req)
}

func (e *Engine) await(ctx context.Context, req *submitRequest) (types.Trade, error) {
	if err := e.send(envelope{kind: evtSubmit, payload: req}); err != nil {
		return types.Trade{}, err
	}
	select {
	case out := <-req.resCh:
		return out.trade, out.err
	case <-ctx.Done():
		// The submission keeps running to completion inside the engine; the
		// caller just stops waiting. Rollback still happens on failure.
		return types.Trade{}, ctx.Err()
	case <-e.stopCh:
		return types.Trade{}, fmt.Errorf("engine stopped")
	}
}

// handleSubmit is step 1–3 of the execution cycle, run inside the loop.
func (e *Engine) handleSubmit(req *submitRequest) {
	acc := e.st.machine.Account()
	if !acc.CanTrade() {
		req.resCh <- submitOutcome{err: ErrTradingLocked}
		return
	}
	if err := req.intent.validate(); err != nil {
		req.resCh <- submitOutcome{err: err}
		return
	}
	if req.closeOf != nil {
		if pos, ok := e.st.book.PositionFor(req.intent.Symbol); !ok {
			req.resCh <- submitOutcome{err: fmt.Errorf("%w: %s", ErrNoPosition, req.intent.Symbol)}
			return
		} else {
			// Re-read inside the loop: the snapshot the caller saw may lag.
			p := pos
			req.closeOf = &p
			req.intent.Quantity = math.Abs(pos.NetQuantity)
		}
	}
	quote, ok := e.st.quotes[req.intent.Symbol]
	if !ok || quote.Price <= 0 {
		req.resCh <- submitOutcome{err: fmt.Errorf("%w: %s", ErrNoPrice, req.intent.Symbol)}
		return
	}

	corrID := uuid.NewString()
	now := time.Now().UTC()
	e.st.nextPendingSeq++
	pending := types.PendingTrade{
		Trade: types.Trade{
			ID:        pendingIDFloor + e.st.nextPendingSeq,
			Symbol:    req.intent.Symbol,
			Side:      req.intent.Side,
			Quantity:  req.intent.Quantity,
			Price:     quote.Price,
			Timestamp: now,
		},
		CorrelationID: corrID,
		SubmittedAt:   now,
	}
	if req.closeOf != nil {
		pending.ProjectedPnL = projectedPnL(req.closeOf.NetQuantity, req.closeOf.AvgEntryPrice, quote.Price)
	}

	fee := estimateFee(req.intent.Quantity, quote.Price, e.cfg.FeeBps)
	entry := &pendingEntry{
		trade:        pending,
		equityBefore: acc.Equity,
		feeEstimate:  fee,
		resCh:        req.resCh,
	}
	e.st.pending[corrID] = entry
	e.st.writeEquity(acc.Equity - fee)
	entry.epoch = e.st.equityEpoch
	e.st.rebuild()
	e.refreshSnapshot()

	logger.Infof("engine: submitted %s %s %.4f @ %.5f corr=%s fee_est=%.4f",
		req.intent.Side, req.intent.Symbol, req.intent.Quantity, quote.Price, corrID, fee)

	e.dispatchPlace(corrID, ledger.PlaceRequest{
		ChallengeID:   e.cfg.ChallengeID,
		CorrelationID: corrID,
		Symbol:        req.intent.Symbol,
		Side:          req.intent.Side,
		Quantity:      req.intent.Quantity,
		Price:         quote.Price,
	})
}

// dispatchPlace performs the blocking ledger call off-loop. The bounded
// timeout is the rollback guarantee: a submission that never returns cannot
// leave a pending trade counted in valuation forever.
func (e *Engine) dispatchPlace(corrID string, req ledger.PlaceRequest) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SubmitTimeout)
		defer cancel()

		res, err := e.ledger.Place(ctx, req)
		if sendErr := e.send(envelope{kind: evtSubmitResult, payload: &submitResult{
			correlationID: corrID,
			res:           res,
			err:           err,
		}}); sendErr != nil {
			logger.Warnf("engine: dropping ledger result for %s: %v", corrID, sendErr)
		}
	}()
}

// handleSubmitResult is step 4–5: confirm or roll back, inside the loop.
func (e *Engine) handleSubmitResult(res *submitResult) {
	entry, ok := e.st.pending[res.correlationID]
	if !ok {
		// Already rolled back (timeout) or a duplicate completion. A late
		// success means the ledger holds a trade our working state dropped:
		// resync rather than guess.
		if res.err == nil {
			logger.Warnf("engine: late ledger success for %s, forcing resync", res.correlationID)
			go e.Resync(context.Background())
		}
		return
	}
	delete(e.st.pending, res.correlationID)

	if res.err != nil {
		e.rollback(entry, res.err)
		return
	}
	e.confirm(entry, res.res)
}

func (e *Engine) confirm(entry *pendingEntry, res ledger.PlaceResult) {
	if res.Duplicate {
		logger.Infof("engine: ledger already observed %s, treating as original", entry.trade.CorrelationID)
	}
	if !e.st.hasTrade(res.Trade.ID) {
		e.st.trades = append(e.st.trades, res.Trade)
	}
	// The ledger's equity replaces the estimate; the local fee guess is
	// never final.
	e.st.applyAuthoritativeEquity(res.NewEquity)
	before := e.st.machine.Account().Status
	acc := e.st.machine.Apply(e.st.assessment.Verdict, res.Status, true)
	if acc.Status != before {
		e.journalStatusChange(before, acc, "ledger placement status")
	}

	e.st.rebuild()
	e.st.val = valuate(e.st)
	e.st.assessment = risk.Evaluate(e.st.val.LiveEquity, acc)
	e.refreshSnapshot()

	if e.store != nil {
		realized := realizedFor(e.st.book, res.Trade.ID)
		if err := e.store.SaveTrade(context.Background(), res.Trade, entry.trade.CorrelationID, realized); err != nil {
			logger.Warnf("engine: journal trade failed: %v", err)
		}
	}

	logger.Infof("engine: confirmed trade %d (%s %s %.4f @ %.5f) equity=%.2f status=%s",
		res.Trade.ID, res.Trade.Side, res.Trade.Symbol, res.Trade.Quantity, res.Trade.Price, res.NewEquity, acc.Status)
	entry.reply(submitOutcome{trade: res.Trade})
}

func (e *Engine) rollback(entry *pendingEntry, cause error) {
	// Exact restore of the pre-submission value when nothing else wrote
	// equity since; a compensating fee release when something did, so an
	// overlapping confirmation's ledger figure is never stomped.
	e.st.releaseEquity(entry)
	e.st.rebuild()

	if ledger.IsRuleViolation(cause) {
		// The backend says a hard limit was already breached: the local
		// working state cannot be trusted, so lock now and resync everything.
		before := e.st.machine.Account().Status
		acc := e.st.machine.ForceFail()
		e.journalStatusChange(before, acc, "ledger rule violation")
		logger.Errorf("engine: rule violation on %s, account locked: %v", entry.trade.Symbol, cause)
		go e.Resync(context.Background())
	} else if ledger.IsTransient(cause) {
		logger.Warnf("engine: transient failure for %s, rolled back: %v", entry.trade.CorrelationID, cause)
	} else {
		logger.Warnf("engine: ledger rejected %s, rolled back: %v", entry.trade.CorrelationID, cause)
	}

	e.st.val = valuate(e.st)
	e.refreshSnapshot()
	entry.reply(submitOutcome{err: cause})
}
