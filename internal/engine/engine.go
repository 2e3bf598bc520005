// Package engine is the position & risk reconciliation core. It rebuilds
// positions from the trade log, values them against cached prices, evaluates
// risk rules, and reconciles optimistic trade execution against the
// authoritative ledger.
//
// Architecture:
//   - A single event loop (runLoop) processes every mutation sequentially, so
//     price updates, trade confirmations and risk verdicts can never lose an
//     update to each other.
//   - Blocking collaborator calls happen in spawned goroutines that report
//     back into the loop as events.
//   - Readers get a lock-free snapshot published through an atomic.Value.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"propeval/internal/account"
	"propeval/internal/gateway/ledger"
	"propeval/internal/gateway/pricefeed"
	"propeval/internal/gateway/rules"
	"propeval/internal/journal"
	"propeval/internal/logger"
	"propeval/internal/risk"
	"propeval/internal/types"
)

const warningRingSize = 50

// Config tunes the engine for one challenge.
type Config struct {
	ChallengeID   string
	ActiveSymbol  string
	FeeBps        float64
	SubmitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 15 * time.Second
	}
	return c
}

// Engine owns the shared state bundle and the actor loop that serializes all
// mutations to it.
type Engine struct {
	cfg    Config
	ledger ledger.Ledger
	feed   pricefeed.Feed
	rules  rules.Authority
	store  *journal.Store // optional

	msgCh    chan envelope
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	st   *state
	snap atomic.Value // *Snapshot
}

type eventKind string

const (
	evtPriceUpdate  eventKind = "price_update"
	evtRiskTick     eventKind = "risk_tick"
	evtSubmit       eventKind = "submit"
	evtSubmitResult eventKind = "submit_result"
	evtResyncResult eventKind = "resync_result"
)

type envelope struct {
	kind    eventKind
	payload any
}

func New(cfg Config, lg ledger.Ledger, feed pricefeed.Feed, authority rules.Authority, store *journal.Store, acc types.Account) *Engine {
	e := &Engine{
		cfg:    cfg.withDefaults(),
		ledger: lg,
		feed:   feed,
		rules:  authority,
		store:  store,
		msgCh:  make(chan envelope, 128),
		stopCh: make(chan struct{}),
		st:     newState(account.NewMachine(acc)),
	}
	e.st.rebuild()
	e.refreshSnapshot()
	return e
}

func (e *Engine) Start() {
	e.wg.Add(1)
	go e.runLoop()
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// Snapshot returns the latest published view. Safe from any goroutine.
func (e *Engine) Snapshot() *Snapshot {
	val := e.snap.Load()
	if val == nil {
		return &Snapshot{}
	}
	return val.(*Snapshot)
}

func (e *Engine) send(evt envelope) error {
	select {
	case e.msgCh <- evt:
		return nil
	case <-e.stopCh:
		return fmt.Errorf("engine is stopped")
	}
}

func (e *Engine) runLoop() {
	defer e.wg.Done()
	logger.Infof("engine: actor started (challenge=%s)", e.cfg.ChallengeID)

	for {
		select {
		case evt := <-e.msgCh:
			e.handleEvent(evt)
		case <-e.stopCh:
			logger.Infof("engine: actor stopping")
			e.drainPending()
			return
		}
	}
}

// handleEvent dispatches one event inside the loop. Panics are contained so
// a single bad handler cannot take the whole actor down, and slow handlers
// are logged because everything behind them in the queue is waiting.
func (e *Engine) handleEvent(evt envelope) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("engine: panic handling %s: %v", evt.kind, r)
			debug.PrintStack()
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("engine: slow event %s took %s", evt.kind, dur)
		}
	}()

	switch evt.kind {
	case evtPriceUpdate:
		e.handlePriceUpdate(evt.payload.(pricefeed.Tick))
	case evtRiskTick:
		e.handleRiskTick()
	case evtSubmit:
		e.handleSubmit(evt.payload.(*submitRequest))
	case evtSubmitResult:
		e.handleSubmitResult(evt.payload.(*submitResult))
	case evtResyncResult:
		e.handleResyncResult(evt.payload.(*resyncResult))
	default:
		logger.Warnf("engine: no handler for event %s", evt.kind)
	}
}

// drainPending unblocks submitters still waiting when the engine stops.
func (e *Engine) drainPending() {
	for corrID, p := range e.st.pending {
		delete(e.st.pending, corrID)
		e.st.releaseEquity(p)
		p.reply(submitOutcome{err: fmt.Errorf("engine stopped before ledger confirmed %s", corrID)})
	}
}

func (e *Engine) refreshSnapshot() {
	e.snap.Store(e.st.snapshot())
}

func (e *Engine) handlePriceUpdate(tick pricefeed.Tick) {
	if tick.Symbol == "" || tick.Price <= 0 {
		return
	}
	e.st.quotes[tick.Symbol] = quoteFromTick(tick)
	e.refreshSnapshot()
}

// handleRiskTick re-runs valuation and rule evaluation against the working
// state, pending overlay included, so a submission in flight cannot open a
// blind spot. The verdict stays advisory: only a remote verdict or a
// rule-violation signal moves the account, so a terminal state can never be
// reached over a local computation alone.
func (e *Engine) handleRiskTick() {
	e.st.val = valuate(e.st)
	e.st.assessment = risk.Evaluate(e.st.val.LiveEquity, e.st.machine.Account())
	e.st.machine.Apply(e.st.assessment.Verdict, "", false)
	e.pushWarnings(e.st.assessment.Warnings)
	e.refreshSnapshot()
}

func (e *Engine) handleResyncResult(res *resyncResult) {
	if res.tradesKnown {
		e.st.trades = res.trades
		e.st.rebuild()
		if e.store != nil {
			if err := e.store.ReplaceTrades(context.Background(), res.trades); err != nil {
				logger.Warnf("engine: journal replace failed: %v", err)
			}
		}
	}

	local := e.st.assessment.Verdict
	if res.verdictKnown {
		// Applied even at or below zero: a blown account reports exactly that.
		e.st.applyAuthoritativeEquity(res.verdict.Metrics.Equity)
		before := e.st.machine.Account().Status
		acc := e.st.machine.Apply(local, res.verdict.Status, true)
		if acc.Status != before {
			e.journalStatusChange(before, acc, "remote verdict")
		}
	} else {
		// Remote validation failed: local verdict stays advisory, account
		// untouched.
		e.st.machine.Apply(local, "", false)
	}

	e.st.val = valuate(e.st)
	e.st.assessment = risk.Evaluate(e.st.val.LiveEquity, e.st.machine.Account())
	e.refreshSnapshot()
}

func (e *Engine) pushWarnings(ws []risk.Warning) {
	for _, w := range ws {
		if n := len(e.st.warnings); n > 0 && e.st.warnings[n-1].Code == w.Code {
			// Collapse the steady repeat a 2s loop would otherwise produce.
			e.st.warnings[n-1] = w
			continue
		}
		e.st.warnings = append(e.st.warnings, w)
	}
	if over := len(e.st.warnings) - warningRingSize; over > 0 {
		e.st.warnings = e.st.warnings[over:]
	}
}

func (e *Engine) journalStatusChange(from types.AccountStatus, acc types.Account, reason string) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveAccountEvent(context.Background(), acc.ChallengeID, from, acc.Status, acc.Equity, reason); err != nil {
		logger.Warnf("engine: journal account event failed: %v", err)
	}
}
