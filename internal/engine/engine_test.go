package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"propeval/internal/gateway/ledger"
	"propeval/internal/gateway/pricefeed"
	"propeval/internal/gateway/rules"
	"propeval/internal/risk"
	"propeval/internal/types"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Place(ctx context.Context, req ledger.PlaceRequest) (ledger.PlaceResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ledger.PlaceResult), args.Error(1)
}

func (m *MockLedger) List(ctx context.Context, challengeID string) ([]types.Trade, error) {
	args := m.Called(ctx, challengeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Trade), args.Error(1)
}

func (m *MockLedger) Fetch(ctx context.Context, challengeID string) (ledger.ChallengeState, error) {
	args := m.Called(ctx, challengeID)
	return args.Get(0).(ledger.ChallengeState), args.Error(1)
}

type MockFeed struct {
	mock.Mock
}

func (m *MockFeed) Tick(ctx context.Context, symbol string) (pricefeed.Tick, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(pricefeed.Tick), args.Error(1)
}

func (m *MockFeed) Quote(ctx context.Context, symbol string) (pricefeed.Tick, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(pricefeed.Tick), args.Error(1)
}

type MockRules struct {
	mock.Mock
}

func (m *MockRules) Validate(ctx context.Context, challengeID string, prices map[string]float64) (rules.Verdict, error) {
	args := m.Called(ctx, challengeID, prices)
	return args.Get(0).(rules.Verdict), args.Error(1)
}

func testAccount() types.Account {
	return types.Account{
		ChallengeID:     "ch-1",
		StartBalance:    100000,
		Equity:          100000,
		Status:          types.StatusActive,
		ProfitTargetPct: 10,
		MaxDrawdownPct:  10,
	}
}

func newTestEngine(t *testing.T, lg *MockLedger, feed *MockFeed, authority *MockRules, acc types.Account) *Engine {
	t.Helper()
	e := New(Config{
		ChallengeID:   "ch-1",
		ActiveSymbol:  "EURUSD",
		FeeBps:        10, // 0.1% of notional
		SubmitTimeout: 2 * time.Second,
	}, lg, feed, authority, nil, acc)
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

func seedPrice(t *testing.T, e *Engine, symbol string, price float64) {
	t.Helper()
	require.NoError(t, e.send(envelope{kind: evtPriceUpdate, payload: pricefeed.Tick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now().UTC(),
		Source:    pricefeed.SourceLive,
	}}))
	require.Eventually(t, func() bool {
		q, ok := e.Snapshot().Quotes[symbol]
		return ok && q.Price == price
	}, time.Second, time.Millisecond)
}

func TestSubmitConfirmsAgainstLedger(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	e := newTestEngine(t, lg, feed, authority, testAccount())
	seedPrice(t, e, "EURUSD", 50)

	confirmed := types.Trade{
		ID: 1, Symbol: "EURUSD", Side: types.SideBuy,
		Quantity: 10, Price: 50, Timestamp: time.Now().UTC(),
	}
	lg.On("Place", mock.Anything, mock.MatchedBy(func(req ledger.PlaceRequest) bool {
		return req.Symbol == "EURUSD" && req.Side == types.SideBuy && req.CorrelationID != ""
	})).Return(ledger.PlaceResult{
		Trade:     confirmed,
		NewEquity: 99995, // ledger's fee, not our estimate
		Status:    types.StatusActive,
	}, nil).Once()

	tr, err := e.Submit(context.Background(), Intent{Symbol: "EURUSD", Side: types.SideBuy, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), tr.ID)

	snap := e.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.InDelta(t, 10, snap.Positions[0].NetQuantity, 1e-9)
	assert.InDelta(t, 50, snap.Positions[0].AvgEntryPrice, 1e-9)
	// Equity is the ledger's figure, never the local fee estimate.
	assert.InDelta(t, 99995, snap.Account.Equity, 1e-12)
	assert.Empty(t, snap.Pending)
	lg.AssertExpectations(t)
}

func TestSubmitRollsBackExactlyOnFailure(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	acc := testAccount()
	acc.Equity = 99876.543210987
	e := newTestEngine(t, lg, feed, authority, acc)
	seedPrice(t, e, "EURUSD", 50)

	lg.On("Place", mock.Anything, mock.Anything).
		Return(ledger.PlaceResult{}, &ledger.APIError{Code: ledger.CodeInsufficientFunds, HTTPStatus: 400}).Once()

	_, err := e.Submit(context.Background(), Intent{Symbol: "EURUSD", Side: types.SideBuy, Quantity: 10})
	require.Error(t, err)

	snap := e.Snapshot()
	// Bit-for-bit the pre-submission value, not a recomputation.
	assert.Equal(t, acc.Equity, snap.Account.Equity)
	assert.Empty(t, snap.Positions)
	assert.Empty(t, snap.Pending)
	assert.Equal(t, types.StatusActive, snap.Account.Status)
}

func TestSubmitRuleViolationLocksAccount(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	e := newTestEngine(t, lg, feed, authority, testAccount())
	seedPrice(t, e, "EURUSD", 50)

	lg.On("Place", mock.Anything, mock.Anything).
		Return(ledger.PlaceResult{}, &ledger.APIError{Code: ledger.CodeRuleViolation, HTTPStatus: 422}).Once()
	// The forced resync after a violation must not trust local state.
	lg.On("List", mock.Anything, "ch-1").Return([]types.Trade{}, nil).Maybe()
	authority.On("Validate", mock.Anything, "ch-1", mock.Anything).
		Return(rules.Verdict{
			Status:   types.StatusFailed,
			IsLocked: true,
			Metrics:  rules.Metrics{Equity: 99000, DrawdownPct: 11},
		}, nil).Maybe()

	_, err := e.Submit(context.Background(), Intent{Symbol: "EURUSD", Side: types.SideBuy, Quantity: 10})
	require.Error(t, err)
	assert.True(t, ledger.IsRuleViolation(err))

	require.Eventually(t, func() bool {
		return e.Snapshot().Account.Status == types.StatusFailed
	}, time.Second, time.Millisecond)

	// Subsequent submissions are rejected locally, no network call.
	_, err = e.Submit(context.Background(), Intent{Symbol: "EURUSD", Side: types.SideBuy, Quantity: 1})
	assert.ErrorIs(t, err, ErrTradingLocked)
	lg.AssertNumberOfCalls(t, "Place", 1)
}

func TestSubmitLocalRejections(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	e := newTestEngine(t, lg, feed, authority, testAccount())

	t.Run("no cached price", func(t *testing.T) {
		_, err := e.Submit(context.Background(), Intent{Symbol: "XAUUSD", Side: types.SideBuy, Quantity: 1})
		assert.ErrorIs(t, err, ErrNoPrice)
	})

	t.Run("invalid side", func(t *testing.T) {
		_, err := e.Submit(context.Background(), Intent{Symbol: "EURUSD", Side: "HOLD", Quantity: 1})
		assert.ErrorIs(t, err, ErrInvalidIntent)
	})

	t.Run("zero quantity", func(t *testing.T) {
		_, err := e.Submit(context.Background(), Intent{Symbol: "EURUSD", Side: types.SideBuy, Quantity: 0})
		assert.ErrorIs(t, err, ErrInvalidIntent)
	})

	lg.AssertNotCalled(t, "Place")
}

func TestSubmitTransientTimeoutRollsBack(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	e := newTestEngine(t, lg, feed, authority, testAccount())
	seedPrice(t, e, "EURUSD", 50)

	lg.On("Place", mock.Anything, mock.Anything).
		Return(ledger.PlaceResult{}, context.DeadlineExceeded).Once()

	_, err := e.Submit(context.Background(), Intent{Symbol: "EURUSD", Side: types.SideBuy, Quantity: 5})
	require.Error(t, err)
	assert.True(t, ledger.IsTransient(err))

	snap := e.Snapshot()
	assert.InDelta(t, 100000, snap.Account.Equity, 1e-12)
	assert.Equal(t, types.StatusActive, snap.Account.Status)
	assert.Empty(t, snap.Pending)
}

func TestLateSuccessForcesResync(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	e := newTestEngine(t, lg, feed, authority, testAccount())

	lg.On("List", mock.Anything, "ch-1").Return([]types.Trade{
		{ID: 9, Symbol: "EURUSD", Side: types.SideBuy, Quantity: 1, Price: 50, Timestamp: time.Now().UTC()},
	}, nil).Once()
	authority.On("Validate", mock.Anything, "ch-1", mock.Anything).
		Return(rules.Verdict{Status: types.StatusActive, Metrics: rules.Metrics{Equity: 99990}}, nil).Once()

	// A completion for a correlation id nobody is waiting on anymore.
	require.NoError(t, e.send(envelope{kind: evtSubmitResult, payload: &submitResult{
		correlationID: "gone",
		res:           ledger.PlaceResult{Trade: types.Trade{ID: 9}},
	}}))

	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return len(snap.Trades) == 1 && snap.Account.Equity == 99990
	}, time.Second, time.Millisecond)
	lg.AssertExpectations(t)
}

func TestRiskTickIsAdvisoryOnly(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	acc := testAccount()
	acc.Equity = 88000 // drawdown 12% > limit 10%
	e := newTestEngine(t, lg, feed, authority, acc)

	e.EvaluateRisk(context.Background())

	require.Eventually(t, func() bool {
		return e.Snapshot().Assessment.Verdict == risk.VerdictFailed
	}, time.Second, time.Millisecond)
	// Local FAILED alone never transitions the account.
	assert.Equal(t, types.StatusActive, e.Snapshot().Account.Status)
}

func TestResyncAppliesRemoteVerdict(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	acc := testAccount()
	acc.Equity = 88000
	e := newTestEngine(t, lg, feed, authority, acc)

	lg.On("List", mock.Anything, "ch-1").Return([]types.Trade{}, nil).Once()
	authority.On("Validate", mock.Anything, "ch-1", mock.Anything).
		Return(rules.Verdict{
			Status:   types.StatusFailed,
			IsLocked: true,
			Metrics:  rules.Metrics{Equity: 88000, DrawdownPct: 12},
		}, nil).Once()

	e.Resync(context.Background())

	require.Eventually(t, func() bool {
		return e.Snapshot().Account.Status == types.StatusFailed
	}, time.Second, time.Millisecond)
	assert.True(t, e.Snapshot().TradingLocked())
}

func TestResyncNetworkErrorLeavesAccountAlone(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	acc := testAccount()
	acc.Equity = 88000
	e := newTestEngine(t, lg, feed, authority, acc)

	lg.On("List", mock.Anything, "ch-1").Return(nil, context.DeadlineExceeded).Once()
	authority.On("Validate", mock.Anything, "ch-1", mock.Anything).
		Return(rules.Verdict{}, context.DeadlineExceeded).Once()

	e.Resync(context.Background())

	// Give the resync result time to flow through the loop.
	time.Sleep(50 * time.Millisecond)
	snap := e.Snapshot()
	assert.Equal(t, types.StatusActive, snap.Account.Status)
	assert.InDelta(t, 88000, snap.Account.Equity, 1e-12)
}

func TestClosePositionProjectsAndConfirms(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	// Recover an existing long 10 @ 50 before the loop starts.
	lg.On("Fetch", mock.Anything, "ch-1").Return(ledger.ChallengeState{
		Account: types.Account{ChallengeID: "ch-1", StartBalance: 100000, Equity: 100000, Status: types.StatusActive},
		Trades: []types.Trade{
			{ID: 1, Symbol: "EURUSD", Side: types.SideBuy, Quantity: 10, Price: 50, Timestamp: time.Now().UTC().Add(-time.Hour)},
		},
	}, nil).Once()
	authority.On("Validate", mock.Anything, "ch-1", mock.Anything).
		Return(rules.Verdict{Status: types.StatusActive, Metrics: rules.Metrics{Equity: 100000}}, nil).Once()

	e := New(Config{
		ChallengeID:   "ch-1",
		ActiveSymbol:  "EURUSD",
		FeeBps:        10,
		SubmitTimeout: 2 * time.Second,
	}, lg, feed, authority, nil, testAccount())
	require.NoError(t, e.Recover(context.Background()))
	e.Start()
	t.Cleanup(e.Stop)
	seedPrice(t, e, "EURUSD", 80)

	var placed ledger.PlaceRequest
	lg.On("Place", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		placed = args.Get(1).(ledger.PlaceRequest)
	}).Return(ledger.PlaceResult{
		Trade: types.Trade{
			ID: 2, Symbol: "EURUSD", Side: types.SideSell,
			Quantity: 10, Price: 80, Timestamp: time.Now().UTC(),
		},
		NewEquity: 100300,
		Status:    types.StatusActive,
	}, nil).Once()

	tr, err := e.ClosePosition(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tr.ID)
	assert.Equal(t, types.SideSell, placed.Side)
	assert.InDelta(t, 10, placed.Quantity, 1e-9)

	snap := e.Snapshot()
	assert.Empty(t, snap.Positions, "full close nets the book flat")
	assert.InDelta(t, 100300, snap.Account.Equity, 1e-12)

	// Confirmed realized PnL shows up on the close tag.
	var realized float64
	for _, tag := range snap.Tags {
		if tag.TradeID == 2 {
			realized = tag.RealizedPnL
		}
	}
	assert.InDelta(t, 300, realized, 1e-9)
}

func TestClosePositionWithoutPosition(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	e := newTestEngine(t, lg, feed, authority, testAccount())

	_, err := e.ClosePosition(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestPendingOverlayCountsInRiskEvaluation(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	e := newTestEngine(t, lg, feed, authority, testAccount())
	seedPrice(t, e, "EURUSD", 50)

	release := make(chan struct{})
	lg.On("Place", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		<-release
	}).Return(ledger.PlaceResult{
		Trade:     types.Trade{ID: 1, Symbol: "EURUSD", Side: types.SideBuy, Quantity: 10, Price: 50, Timestamp: time.Now().UTC()},
		NewEquity: 99995,
		Status:    types.StatusActive,
	}, nil).Once()

	go func() {
		_, _ = e.Submit(context.Background(), Intent{Symbol: "EURUSD", Side: types.SideBuy, Quantity: 10})
	}()

	// While the ledger call hangs, the pending trade is in the working state
	// and evaluation keeps running against it, flagged provisional.
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Pending) == 1
	}, time.Second, time.Millisecond)

	e.EvaluateRisk(context.Background())
	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return snap.Provisional && len(snap.Valuation.Symbols) == 1
	}, time.Second, time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Pending) == 0
	}, time.Second, time.Millisecond)
}

func TestOverlappingRollbackKeepsConfirmedEquity(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	e := newTestEngine(t, lg, feed, authority, testAccount())
	seedPrice(t, e, "EURUSD", 50)
	seedPrice(t, e, "GBPUSD", 40)

	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	lg.On("Place", mock.Anything, mock.MatchedBy(func(req ledger.PlaceRequest) bool {
		return req.Symbol == "EURUSD"
	})).Run(func(mock.Arguments) { <-releaseA }).Return(ledger.PlaceResult{
		Trade:     types.Trade{ID: 1, Symbol: "EURUSD", Side: types.SideBuy, Quantity: 10, Price: 50, Timestamp: time.Now().UTC()},
		NewEquity: 95000,
		Status:    types.StatusActive,
	}, nil).Once()
	lg.On("Place", mock.Anything, mock.MatchedBy(func(req ledger.PlaceRequest) bool {
		return req.Symbol == "GBPUSD"
	})).Run(func(mock.Arguments) { <-releaseB }).
		Return(ledger.PlaceResult{}, &ledger.APIError{Code: ledger.CodeInsufficientFunds, HTTPStatus: 400}).Once()

	go func() {
		_, _ = e.Submit(context.Background(), Intent{Symbol: "EURUSD", Side: types.SideBuy, Quantity: 10})
	}()
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Pending) == 1
	}, time.Second, time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Submit(context.Background(), Intent{Symbol: "GBPUSD", Side: types.SideBuy, Quantity: 10})
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Pending) == 2
	}, time.Second, time.Millisecond)

	// First submission confirms while the second is still in flight: equity
	// becomes the ledger's figure less the second's pending fee estimate.
	close(releaseA)
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Trades) == 1
	}, time.Second, time.Millisecond)
	assert.InDelta(t, 95000-0.4, e.Snapshot().Account.Equity, 1e-9)

	// The second submission's failure must not revert to its pre-submit
	// snapshot; the confirmed ledger equity has to survive the rollback.
	close(releaseB)
	require.Error(t, <-errCh)
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Pending) == 0
	}, time.Second, time.Millisecond)

	snap := e.Snapshot()
	assert.InDelta(t, 95000, snap.Account.Equity, 1e-9)
	assert.Equal(t, types.StatusActive, snap.Account.Status)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "EURUSD", snap.Positions[0].Symbol)
}

func TestResyncAppliesDepletedEquity(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	acc := testAccount()
	acc.Equity = 88000
	e := newTestEngine(t, lg, feed, authority, acc)

	lg.On("List", mock.Anything, "ch-1").Return([]types.Trade{}, nil).Once()
	authority.On("Validate", mock.Anything, "ch-1", mock.Anything).
		Return(rules.Verdict{
			Status:   types.StatusFailed,
			IsLocked: true,
			Metrics:  rules.Metrics{Equity: -250, DrawdownPct: 100},
		}, nil).Once()

	e.Resync(context.Background())

	// An account blown past zero reports exactly that; the figure is applied
	// rather than discarded for not being positive.
	require.Eventually(t, func() bool {
		return e.Snapshot().Account.Equity == -250
	}, time.Second, time.Millisecond)
	assert.Equal(t, types.StatusFailed, e.Snapshot().Account.Status)
}

func TestWarningsCollapseSteadyRepeats(t *testing.T) {
	lg := new(MockLedger)
	feed := new(MockFeed)
	authority := new(MockRules)
	acc := testAccount()
	acc.Equity = 92500 // drawdown 7.5%, inside the warning band
	e := newTestEngine(t, lg, feed, authority, acc)

	for i := 0; i < 5; i++ {
		e.EvaluateRisk(context.Background())
	}

	require.Eventually(t, func() bool {
		return len(e.Snapshot().Warnings) > 0
	}, time.Second, time.Millisecond)
	assert.Len(t, e.Snapshot().Warnings, 1)
	assert.Equal(t, risk.WarnDrawdownNear, e.Snapshot().Warnings[0].Code)
}
