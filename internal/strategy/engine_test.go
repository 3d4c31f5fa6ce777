package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dipbot/internal/gateway/exchange"
	"dipbot/internal/types"
)

// fakeClient is an in-memory exchange: placed orders rest on the book until
// cancelled, trades and candles are whatever the test seeds.
type fakeClient struct {
	mu sync.Mutex

	price     float64
	priceErr  error
	filters   types.SymbolFilters
	orders    []types.Order
	trades    []types.Trade
	candles   []types.Candle
	candleErr error

	placeErr  error
	placed    []exchange.LimitOrderRequest
	stops     []exchange.StopLimitOrderRequest
	cancelled []int64

	nextID int64
}

func (f *fakeClient) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.price, nil
}

func (f *fakeClient) SymbolFilters(ctx context.Context, symbol string) (types.SymbolFilters, error) {
	return f.filters, nil
}

func (f *fakeClient) OpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Order, len(f.orders))
	copy(out, f.orders)
	return out, nil
}

func (f *fakeClient) RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	return f.trades, nil
}

func (f *fakeClient) PlaceLimitOrder(ctx context.Context, req exchange.LimitOrderRequest) (*types.Order, error) {
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.placed = append(f.placed, req)
	order := types.Order{
		OrderID:       f.nextID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		OrigQty:       req.Quantity,
	}
	f.orders = append(f.orders, order)
	return &order, nil
}

func (f *fakeClient) PlaceStopLimitOrder(ctx context.Context, req exchange.StopLimitOrderRequest) (*types.Order, error) {
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.stops = append(f.stops, req)
	order := types.Order{
		OrderID:       f.nextID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		StopPrice:     req.StopPrice,
		OrigQty:       req.Quantity,
	}
	f.orders = append(f.orders, order)
	return &order, nil
}

func (f *fakeClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	kept := f.orders[:0]
	for _, o := range f.orders {
		if o.OrderID != orderID {
			kept = append(kept, o)
		}
	}
	f.orders = kept
	return nil
}

func (f *fakeClient) Candles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	if f.candleErr != nil {
		return nil, f.candleErr
	}
	return f.candles, nil
}

type fakeStore struct {
	mu     sync.Mutex
	states map[string]*types.PositionState
	saves  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]*types.PositionState)}
}

func (s *fakeStore) key(userID, ruleID string) string { return userID + "/" + ruleID }

func (s *fakeStore) Load(ctx context.Context, userID, ruleID string) (*types.PositionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[s.key(userID, ruleID)]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *fakeStore) Save(ctx context.Context, userID, ruleID string, state *types.PositionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	cp := *state
	s.states[s.key(userID, ruleID)] = &cp
	return nil
}

func (s *fakeStore) Clear(ctx context.Context, userID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, s.key(userID, ruleID))
	return nil
}

type fakeHooks struct {
	mu     sync.Mutex
	issues []RuleIssue
	clears int
	events []RuleEvent
}

func (h *fakeHooks) ReportRuleIssue(ctx context.Context, issue RuleIssue) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.issues = append(h.issues, issue)
	return nil
}

func (h *fakeHooks) ClearRuleIssue(ctx context.Context, userID, ruleID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clears++
	return nil
}

func (h *fakeHooks) NotifyRuleEvent(ctx context.Context, event RuleEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *fakeHooks) eventTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.EventType)
	}
	return out
}

func btcFilters() types.SymbolFilters {
	return types.SymbolFilters{
		Symbol:      "BTCUSDT",
		StepSize:    "0.00001",
		MinQty:      "0.00001",
		TickSize:    "0.01",
		MinNotional: "5",
		BaseAsset:   "BTC",
		QuoteAsset:  "USDT",
	}
}

func manualRule() types.Rule {
	return types.Rule{
		ID:         "r1-alpha",
		Type:       types.RuleTypeManual,
		Symbol:     "BTCUSDT",
		Enabled:    true,
		BudgetUSDT: 100,
		DipPct:     1.0,
		TPPct:      2.0,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
}

func runTick(t *testing.T, client *fakeClient, rule types.Rule, store *fakeStore, hooks *fakeHooks) error {
	t.Helper()
	engine := NewEngine()
	return engine.ProcessRule(context.Background(), client, rule, NewTickCaches(), "u1", hooks, store)
}

func TestProcessRulePlacesEntryOrder(t *testing.T) {
	client := &fakeClient{price: 30000, filters: btcFilters()}
	store := newFakeStore()
	hooks := &fakeHooks{}
	rule := manualRule()

	require.NoError(t, runTick(t, client, rule, store, hooks))

	require.Len(t, client.placed, 1)
	buy := client.placed[0]
	assert.Equal(t, types.SideBuy, buy.Side)
	assert.Equal(t, entryClientID(rule.ID), buy.ClientOrderID)
	assert.InDelta(t, 29700.0, buy.Price, 1e-9)
	assert.InDelta(t, 0.00336, buy.Quantity, 1e-12)

	// Same exchange state again: reconciliation must not add a second order.
	require.NoError(t, runTick(t, client, rule, store, hooks))
	assert.Len(t, client.placed, 1)
	assert.Empty(t, client.cancelled)
}

func TestProcessRuleReplacesDriftedEntry(t *testing.T) {
	client := &fakeClient{price: 30000, filters: btcFilters()}
	store := newFakeStore()
	hooks := &fakeHooks{}
	rule := manualRule()

	// Resting entry from an earlier tick, now 2% away from target.
	client.orders = []types.Order{{
		OrderID:       99,
		ClientOrderID: entryClientID(rule.ID),
		Symbol:        "BTCUSDT",
		Side:          types.SideBuy,
		Price:         29106,
		OrigQty:       0.00336,
	}}
	client.nextID = 99

	require.NoError(t, runTick(t, client, rule, store, hooks))

	assert.Equal(t, []int64{99}, client.cancelled)
	require.Len(t, client.placed, 1)
	assert.InDelta(t, 29700.0, client.placed[0].Price, 1e-9)
}

func TestProcessRuleSkipsBelowMinNotional(t *testing.T) {
	client := &fakeClient{price: 30000, filters: btcFilters()}
	store := newFakeStore()
	hooks := &fakeHooks{}
	rule := manualRule()
	rule.BudgetUSDT = 3 // floor(3/29700) * 29700 < 5 USDT

	require.NoError(t, runTick(t, client, rule, store, hooks))
	assert.Empty(t, client.placed)
}

func TestProcessRuleFullLifecycle(t *testing.T) {
	client := &fakeClient{price: 30000, filters: btcFilters()}
	store := newFakeStore()
	hooks := &fakeHooks{}
	rule := manualRule()
	rule.StopLossPct = 3.0

	now := time.Now()

	// Tick 1: entry fill shows up in the trade history.
	client.trades = []types.Trade{{
		ID:       1001,
		Price:    29700,
		Qty:      0.003,
		QuoteQty: 89.1,
		IsBuyer:  true,
		Time:     now.UnixMilli(),
	}}
	require.NoError(t, runTick(t, client, rule, store, hooks))

	state, err := store.Load(context.Background(), "u1", rule.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Active)
	assert.Equal(t, types.StateVersion, state.Version)
	assert.InDelta(t, 29700.0, state.EntryPrice, 1e-9)
	assert.InDelta(t, 0.003, state.BaseQty, 1e-12)
	assert.InDelta(t, 89.1, state.QuoteSpent, 1e-9)
	assert.True(t, state.TradeProcessed(1001))
	assert.Contains(t, hooks.eventTypes(), EventPositionOpened)

	// Ladder: TPPct 2% of 29700 = 30294, full quantity on one step.
	require.Len(t, state.TakeProfitPlan, 1)
	assert.InDelta(t, 30294.0, state.TakeProfitPlan[0].TargetPrice, 1e-9)
	assert.InDelta(t, 0.003, state.TakeProfitPlan[0].Quantity, 1e-12)

	// The same tick placed the sell step and the protective stop.
	var sells, stops int
	for _, req := range client.placed {
		if req.Side == types.SideSell {
			sells++
			assert.True(t, req.MakerOnly)
		}
	}
	stops = len(client.stops)
	assert.Equal(t, 1, sells)
	assert.Equal(t, 1, stops)
	assert.InDelta(t, 29700*0.97, client.stops[0].StopPrice, 0.02)

	// Tick 2: the step sells, commission charged in quote.
	client.trades = append(client.trades, types.Trade{
		ID:              1002,
		Price:           30300,
		Qty:             0.003,
		QuoteQty:        90.9,
		Commission:      0.0909,
		CommissionAsset: "USDT",
		IsBuyer:         false,
		Time:            now.Add(time.Minute).UnixMilli(),
	})
	require.NoError(t, runTick(t, client, rule, store, hooks))

	state, err = store.Load(context.Background(), "u1", rule.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.Active)
	require.NotNil(t, state.ClosedAt)
	assert.InDelta(t, 0.0, state.RemainingQty, 1e-12)
	assert.InDelta(t, 90.9-0.0909, state.RealizedQuote, 1e-9)
	assert.Contains(t, hooks.eventTypes(), EventPositionClosed)

	// Tick 3: the closed state is retained and its fills stay processed, so the
	// rule arms a fresh entry instead of reopening from trade 1001.
	placedBefore := len(client.placed)
	require.NoError(t, runTick(t, client, rule, store, hooks))
	require.Len(t, client.placed, placedBefore+1)
	assert.Equal(t, types.SideBuy, client.placed[placedBefore].Side)

	state, err = store.Load(context.Background(), "u1", rule.ID)
	require.NoError(t, err)
	assert.False(t, state.Active)
}

func TestProcessRuleConvertsBaseCommission(t *testing.T) {
	client := &fakeClient{price: 30000, filters: btcFilters()}
	store := newFakeStore()
	hooks := &fakeHooks{}
	rule := manualRule()

	now := time.Now()
	client.trades = []types.Trade{{
		ID: 1, Price: 29700, Qty: 0.003, QuoteQty: 89.1, IsBuyer: true, Time: now.UnixMilli(),
	}}
	require.NoError(t, runTick(t, client, rule, store, hooks))

	client.trades = append(client.trades, types.Trade{
		ID:              2,
		Price:           30300,
		Qty:             0.003,
		QuoteQty:        90.9,
		Commission:      0.000001,
		CommissionAsset: "BTC",
		IsBuyer:         false,
		Time:            now.Add(time.Minute).UnixMilli(),
	})
	require.NoError(t, runTick(t, client, rule, store, hooks))

	state, err := store.Load(context.Background(), "u1", rule.ID)
	require.NoError(t, err)
	assert.InDelta(t, 90.9-0.000001*30300, state.RealizedQuote, 1e-9)
}

func TestProcessRuleDiscardsMismatchedStateVersion(t *testing.T) {
	client := &fakeClient{price: 30000, filters: btcFilters()}
	store := newFakeStore()
	hooks := &fakeHooks{}
	rule := manualRule()

	stale := &types.PositionState{Version: types.StateVersion - 1, RuleID: rule.ID, Active: true, RemainingQty: 0.003}
	require.NoError(t, store.Save(context.Background(), "u1", rule.ID, stale))

	require.NoError(t, runTick(t, client, rule, store, hooks))

	// The stale active state was ignored: the engine went down the entry path.
	require.Len(t, client.placed, 1)
	assert.Equal(t, types.SideBuy, client.placed[0].Side)
}

func TestProcessRuleEntryGateFailsClosed(t *testing.T) {
	rsiMax := 30.0
	rule := manualRule()
	rule.IndicatorSettings = &types.IndicatorSettings{Interval: "1h", RSIPeriod: 14, RSIEntryMax: &rsiMax}

	t.Run("candles unavailable", func(t *testing.T) {
		client := &fakeClient{price: 30000, filters: btcFilters(), candleErr: assert.AnError}
		store := newFakeStore()
		hooks := &fakeHooks{}

		require.NoError(t, runTick(t, client, rule, store, hooks))
		assert.Empty(t, client.placed)
	})

	t.Run("rsi above threshold cancels resting entry", func(t *testing.T) {
		client := &fakeClient{price: 30000, filters: btcFilters()}
		// Monotonic gains push Wilder RSI to 100.
		for i := 0; i < 120; i++ {
			client.candles = append(client.candles, types.Candle{Close: 100 + float64(i)})
		}
		client.orders = []types.Order{{
			OrderID: 7, ClientOrderID: entryClientID(rule.ID), Side: types.SideBuy, Price: 29700, OrigQty: 0.003,
		}}
		store := newFakeStore()
		hooks := &fakeHooks{}

		require.NoError(t, runTick(t, client, rule, store, hooks))
		assert.Empty(t, client.placed)
		assert.Equal(t, []int64{7}, client.cancelled)
	})
}

func TestProcessRuleExitGateLenientOnMissingData(t *testing.T) {
	rsiExit := 60.0
	rule := manualRule()
	rule.IndicatorSettings = &types.IndicatorSettings{Interval: "1h", RSIPeriod: 14, RSIExitMin: &rsiExit}

	client := &fakeClient{price: 30000, filters: btcFilters(), candleErr: assert.AnError}
	store := newFakeStore()
	hooks := &fakeHooks{}

	now := time.Now()
	client.trades = []types.Trade{{
		ID: 1, Price: 29700, Qty: 0.003, QuoteQty: 89.1, IsBuyer: true, Time: now.UnixMilli(),
	}}
	require.NoError(t, runTick(t, client, rule, store, hooks))

	// Data outage must not suppress the ladder: the sell step goes out anyway.
	var sells int
	for _, req := range client.placed {
		if req.Side == types.SideSell {
			sells++
		}
	}
	assert.Equal(t, 1, sells)
}

func TestProcessRuleExitGateSuppressesSellLadder(t *testing.T) {
	settings := &types.IndicatorSettings{MACDExit: types.MACDBearish}
	settings.Normalize()
	rule := manualRule()
	rule.IndicatorSettings = settings

	trendCandles := func(rising bool) []types.Candle {
		out := make([]types.Candle, 150)
		for i := range out {
			if rising {
				out[i] = types.Candle{Close: 100 + float64(i)}
			} else {
				out[i] = types.Candle{Close: 1000 - float64(i)}
			}
		}
		return out
	}
	sellOrders := func(client *fakeClient) []exchange.LimitOrderRequest {
		var out []exchange.LimitOrderRequest
		for _, req := range client.placed {
			if req.Side == types.SideSell {
				out = append(out, req)
			}
		}
		return out
	}

	client := &fakeClient{price: 30000, filters: btcFilters()}
	store := newFakeStore()
	hooks := &fakeHooks{}

	// Tick 1: entry fills while MACD is bullish. The bearish exit gate holds
	// the position, so the filled entry produces no sell ladder at all.
	client.candles = trendCandles(true)
	client.trades = []types.Trade{{
		ID: 1, Price: 29700, Qty: 0.003, QuoteQty: 89.1, IsBuyer: true, Time: time.Now().UnixMilli(),
	}}
	require.NoError(t, runTick(t, client, rule, store, hooks))

	assert.Empty(t, sellOrders(client))
	state, err := store.Load(context.Background(), "u1", rule.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Active)

	// Tick 2: MACD turns bearish, matching the gate. Exactly one sell step
	// goes out and the position stays open until it fills.
	client.candles = trendCandles(false)
	require.NoError(t, runTick(t, client, rule, store, hooks))

	sells := sellOrders(client)
	require.Len(t, sells, 1)
	assert.True(t, sells[0].MakerOnly)
	state, err = store.Load(context.Background(), "u1", rule.ID)
	require.NoError(t, err)
	assert.True(t, state.Active)

	// Tick 3: the trend flips back; the resting step is pulled from the book
	// while the position is held for a better exit.
	restingID := int64(0)
	for _, o := range client.orders {
		if o.Side == types.SideSell {
			restingID = o.OrderID
		}
	}
	require.NotZero(t, restingID)

	client.candles = trendCandles(true)
	require.NoError(t, runTick(t, client, rule, store, hooks))

	assert.Contains(t, client.cancelled, restingID)
	assert.Len(t, sellOrders(client), 1)
	state, err = store.Load(context.Background(), "u1", rule.ID)
	require.NoError(t, err)
	assert.True(t, state.Active)
}

func TestProcessRuleReportsActionableIssue(t *testing.T) {
	client := &fakeClient{
		price:    30000,
		filters:  btcFilters(),
		placeErr: &exchange.APIError{Code: exchange.CodeInsufficientBalance, Message: "no funds"},
	}
	store := newFakeStore()
	hooks := &fakeHooks{}
	rule := manualRule()

	err := runTick(t, client, rule, store, hooks)
	require.Error(t, err)
	require.Len(t, hooks.issues, 1)
	assert.Equal(t, exchange.CodeInsufficientBalance, hooks.issues[0].Code)
	assert.Equal(t, rule.ID, hooks.issues[0].RuleID)

	// Next tick the balance is there: the order goes out and the issue clears.
	client.placeErr = nil
	require.NoError(t, runTick(t, client, rule, store, hooks))
	assert.Equal(t, 1, hooks.clears)
}

func TestProcessRuleIgnoresStaleAndForeignFills(t *testing.T) {
	client := &fakeClient{price: 30000, filters: btcFilters()}
	store := newFakeStore()
	hooks := &fakeHooks{}
	rule := manualRule()

	client.trades = []types.Trade{
		// Predates rule creation beyond the grace window.
		{ID: 1, Price: 29700, Qty: 0.003, QuoteQty: 89.1, IsBuyer: true, Time: rule.CreatedAt.Add(-2 * time.Minute).UnixMilli()},
		// Price 5% off the target: someone else's fill.
		{ID: 2, Price: 31200, Qty: 0.003, QuoteQty: 93.6, IsBuyer: true, Time: time.Now().UnixMilli()},
	}
	require.NoError(t, runTick(t, client, rule, store, hooks))

	state, err := store.Load(context.Background(), "u1", rule.ID)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestProcessRuleTrailingStopRatchets(t *testing.T) {
	client := &fakeClient{price: 29700, filters: btcFilters()}
	store := newFakeStore()
	hooks := &fakeHooks{}
	rule := manualRule()
	rule.TrailingStopPct = 2.0

	now := time.Now()
	client.trades = []types.Trade{{
		ID: 1, Price: 29700, Qty: 0.003, QuoteQty: 89.1, IsBuyer: true, Time: now.UnixMilli(),
	}}
	require.NoError(t, runTick(t, client, rule, store, hooks))

	state, err := store.Load(context.Background(), "u1", rule.ID)
	require.NoError(t, err)
	assert.InDelta(t, 29700.0, state.TrailingPeakPrice, 1e-9)
	firstStop := state.TrailingStopPrice
	assert.InDelta(t, 29700*0.98, firstStop, 0.02)

	// Price rallies well past the 0.1% noise threshold.
	client.price = 30500
	require.NoError(t, runTick(t, client, rule, store, hooks))

	state, err = store.Load(context.Background(), "u1", rule.ID)
	require.NoError(t, err)
	assert.InDelta(t, 30500.0, state.TrailingPeakPrice, 1e-9)
	assert.Greater(t, state.TrailingStopPrice, firstStop)
	assert.InDelta(t, 30500*0.98, state.TrailingStopPrice, 0.02)

	// A pullback must not lower the ratcheted peak.
	client.price = 30000
	require.NoError(t, runTick(t, client, rule, store, hooks))
	state, err = store.Load(context.Background(), "u1", rule.ID)
	require.NoError(t, err)
	assert.InDelta(t, 30500.0, state.TrailingPeakPrice, 1e-9)
}

func TestProcessRuleSkipsDisabledAndEmptyRules(t *testing.T) {
	client := &fakeClient{price: 30000, filters: btcFilters()}
	store := newFakeStore()
	hooks := &fakeHooks{}

	disabled := manualRule()
	disabled.Enabled = false
	require.NoError(t, runTick(t, client, disabled, store, hooks))

	noBudget := manualRule()
	noBudget.BudgetUSDT = 0
	require.NoError(t, runTick(t, client, noBudget, store, hooks))

	assert.Empty(t, client.placed)
}
