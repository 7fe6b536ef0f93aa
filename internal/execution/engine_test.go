package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowarb/arbitrage-core/internal/config"
	"github.com/flowarb/arbitrage-core/internal/exchange"
	"github.com/flowarb/arbitrage-core/internal/types"
)

// fakeClient is a minimal in-memory ExchangeClient double. PlaceOrder fills
// the order immediately at the requested price unless fillRatio < 1, in
// which case it only partially fills; GetOrder replays whatever state was
// stashed at placement time.
type fakeClient struct {
	venue     types.VenueID
	fillRatio decimal.Decimal
	policy    types.OrderPolicy
	placeErr  error

	mu        sync.Mutex
	orders    map[string]types.Order
	cancelled []string
}

func newFakeClient(venue types.VenueID, fillRatio decimal.Decimal) *fakeClient {
	return &fakeClient{
		venue:     venue,
		fillRatio: fillRatio,
		policy:    types.OrderPolicy{SupportsIOC: true, DefaultTIF: types.TimeInForceIOC},
		orders:    make(map[string]types.Order),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error    { return nil }
func (f *fakeClient) Disconnect(ctx context.Context) error  { return nil }
func (f *fakeClient) IsConnected() bool                     { return true }
func (f *fakeClient) VenueID() types.VenueID                { return f.venue }

func (f *fakeClient) GetTicker(ctx context.Context, instrument types.InstrumentID) (types.MarketTick, error) {
	return types.MarketTick{}, nil
}
func (f *fakeClient) GetOrderBook(ctx context.Context, instrument types.InstrumentID, depth int) ([]types.OrderBookDelta, error) {
	return nil, nil
}
func (f *fakeClient) StreamTicks(ctx context.Context, instruments []types.InstrumentID) (<-chan types.MarketTick, error) {
	return nil, nil
}
func (f *fakeClient) StreamBookDeltas(ctx context.Context, instruments []types.InstrumentID) (<-chan types.OrderBookDelta, error) {
	return nil, nil
}
func (f *fakeClient) StreamTrades(ctx context.Context, instruments []types.InstrumentID) (<-chan types.Trade, error) {
	return nil, nil
}

func (f *fakeClient) PlaceOrder(ctx context.Context, order types.Order) (types.Order, error) {
	if f.placeErr != nil {
		return types.Order{}, f.placeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	order.VenueOrderID = "v-" + order.ClientID.String()
	order.FilledQty = order.Qty.Mul(f.fillRatio)
	order.AvgFillPrice = order.Price
	if order.AvgFillPrice.IsZero() {
		order.AvgFillPrice = decimal.NewFromInt(1)
	}
	if order.FilledQty.Equal(order.Qty) {
		order.State = types.OrderStateFilled
	} else if order.FilledQty.IsZero() {
		order.State = types.OrderStateAccepted
	} else {
		order.State = types.OrderStatePartiallyFilled
	}
	order.UpdatedTS = time.Now()
	f.orders[order.ClientID.String()] = order
	return order, nil
}

func (f *fakeClient) CancelOrder(ctx context.Context, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, clientID)
	if order, ok := f.orders[clientID]; ok && !isTerminal(order.State) {
		order.State = types.OrderStateCanceled
		order.UpdatedTS = time.Now()
		f.orders[clientID] = order
	}
	return nil
}

func (f *fakeClient) GetOrder(ctx context.Context, clientID string) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[clientID], nil
}

func (f *fakeClient) GetOpenOrders(ctx context.Context, instrument types.InstrumentID) ([]types.Order, error) {
	return nil, nil
}
func (f *fakeClient) PlaceStopLoss(ctx context.Context, order types.Order, stopPrice decimal.Decimal) (types.Order, error) {
	return types.Order{}, nil
}
func (f *fakeClient) PlaceTakeProfit(ctx context.Context, order types.Order, triggerPrice decimal.Decimal) (types.Order, error) {
	return types.Order{}, nil
}
func (f *fakeClient) PlaceIceberg(ctx context.Context, order types.Order, visibleQty decimal.Decimal) (types.Order, error) {
	return types.Order{}, nil
}
func (f *fakeClient) PlaceTWAP(ctx context.Context, order types.Order, slices int, interval time.Duration) ([]types.Order, error) {
	return nil, nil
}
func (f *fakeClient) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	return nil, nil
}
func (f *fakeClient) GetPositionRisk(ctx context.Context, instrument types.InstrumentID) (types.Position, error) {
	return types.Position{}, nil
}
func (f *fakeClient) GetOrderPolicy() types.OrderPolicy   { return f.policy }
func (f *fakeClient) GetFeeSchedule() types.FeeSchedule   { return types.FeeSchedule{} }
func (f *fakeClient) GetLatencyStats() exchange.LatencyStats {
	return exchange.LatencyStats{}
}
func (f *fakeClient) GetConnectionStats() exchange.ConnectionStats {
	return exchange.ConnectionStats{}
}

var _ exchange.ExchangeClient = (*fakeClient)(nil)

func testOpportunity() types.Opportunity {
	return types.Opportunity{
		ID:                uuid.New(),
		Instrument:        "BTC-USDT",
		BuyVenue:          "venueA",
		SellVenue:         "venueB",
		BuyPrice:          decimal.NewFromInt(100),
		SellPrice:         decimal.NewFromInt(105),
		MaxQuantity:       decimal.NewFromInt(10),
		ExpectedProfitPct: decimal.NewFromFloat(4.0),
		Confidence:        decimal.NewFromFloat(0.9),
		DetectedTS:        time.Now(),
		ExpiresTS:         time.Now().Add(time.Minute),
		Status:            types.OpportunityStatusDetected,
	}
}

func testEngine(buyFill, sellFill decimal.Decimal) (*Engine, *fakeClient, *fakeClient) {
	buy := newFakeClient("venueA", buyFill)
	sell := newFakeClient("venueB", sellFill)
	clients := map[types.VenueID]exchange.ExchangeClient{"venueA": buy, "venueB": sell}
	e := NewEngine(nil, nil, clients, config.ExecutionConfig{FillDeadline: time.Second, PollInterval: 10 * time.Millisecond})
	return e, buy, sell
}

func TestExecuteFillsBothLegsFully(t *testing.T) {
	t.Parallel()
	e, _, _ := testEngine(decimal.NewFromInt(1), decimal.NewFromInt(1))
	opp := testOpportunity()
	trade := types.ProposedTrade{OpportunityID: opp.ID, Instrument: opp.Instrument, Quantity: decimal.NewFromInt(2)}

	result, err := e.Execute(context.Background(), opp, trade, nil)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStateFilled, result.BuyOrder.State)
	assert.Equal(t, types.OrderStateFilled, result.SellOrder.State)
	assert.True(t, result.ExecutedQty.Equal(decimal.NewFromInt(2)))
}

func TestExecuteFlattensLaggingLegOnPartialFill(t *testing.T) {
	t.Parallel()
	// Buy leg fills fully, sell leg only fills half, leaving inventory
	// that must be flattened by a market sell for the shortfall.
	e, _, sell := testEngine(decimal.NewFromInt(1), decimal.NewFromFloat(0.5))
	opp := testOpportunity()
	trade := types.ProposedTrade{OpportunityID: opp.ID, Instrument: opp.Instrument, Quantity: decimal.NewFromInt(2)}

	result, err := e.Execute(context.Background(), opp, trade, nil)
	require.NoError(t, err)
	assert.True(t, result.BuyOrder.FilledQty.Equal(decimal.NewFromInt(2)))
	assert.True(t, result.SellOrder.FilledQty.GreaterThan(decimal.NewFromInt(1)),
		"flatten order should have topped up the lagging sell leg past its initial partial fill")
	sell.mu.Lock()
	defer sell.mu.Unlock()
	assert.Len(t, sell.orders, 2, "expected the original sell leg plus one flatten order")
}

func TestExecuteRejectsExpiredOpportunity(t *testing.T) {
	t.Parallel()
	e, _, _ := testEngine(decimal.NewFromInt(1), decimal.NewFromInt(1))
	opp := testOpportunity()
	opp.ExpiresTS = time.Now().Add(-time.Second)
	trade := types.ProposedTrade{OpportunityID: opp.ID, Instrument: opp.Instrument, Quantity: decimal.NewFromInt(1)}

	_, err := e.Execute(context.Background(), opp, trade, nil)
	assert.Error(t, err)
}

type denyGate struct{}

func (denyGate) Allow(ctx context.Context, trade types.ProposedTrade) bool { return false }

func TestExecuteRejectsWhenRiskGateDenies(t *testing.T) {
	t.Parallel()
	e, _, _ := testEngine(decimal.NewFromInt(1), decimal.NewFromInt(1))
	opp := testOpportunity()
	trade := types.ProposedTrade{OpportunityID: opp.ID, Instrument: opp.Instrument, Quantity: decimal.NewFromInt(1)}

	_, err := e.Execute(context.Background(), opp, trade, denyGate{})
	assert.Error(t, err)
}

func TestExecuteCancelsOpenLegsAndReportsNoFillsOnDeadline(t *testing.T) {
	t.Parallel()
	// Neither venue ever fills, so both legs sit in Accepted until the
	// fill deadline trips; both must be explicitly cancelled and the
	// outcome reported as NoFills rather than left to look like a clean
	// zero-quantity fill.
	e, buy, sell := testEngine(decimal.Zero, decimal.Zero)
	e.fillDeadline = 20 * time.Millisecond
	e.pollInterval = 5 * time.Millisecond
	opp := testOpportunity()
	trade := types.ProposedTrade{OpportunityID: opp.ID, Instrument: opp.Instrument, Quantity: decimal.NewFromInt(2)}

	result, err := e.Execute(context.Background(), opp, trade, nil)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeNoFills, result.Outcome)
	assert.Equal(t, types.OrderStateCanceled, result.BuyOrder.State)
	assert.Equal(t, types.OrderStateCanceled, result.SellOrder.State)

	buy.mu.Lock()
	assert.Len(t, buy.cancelled, 1)
	buy.mu.Unlock()
	sell.mu.Lock()
	assert.Len(t, sell.cancelled, 1)
	sell.mu.Unlock()
}

func TestExecuteCancelsLaggingLegAndReportsTimeoutOnPartialDeadlineFill(t *testing.T) {
	t.Parallel()
	// Buy leg fills immediately, sell leg only ever half-fills and then
	// sits in PartiallyFilled forever: at the deadline the sell leg (and
	// its flatten order) must be cancelled explicitly, and the outcome
	// must read Timeout rather than a bare partial fill, since the
	// deadline — not a reconciled mismatch — is why the sell side stalled.
	e, _, sell := testEngine(decimal.NewFromInt(1), decimal.NewFromFloat(0.5))
	e.fillDeadline = 20 * time.Millisecond
	e.pollInterval = 5 * time.Millisecond
	opp := testOpportunity()
	trade := types.ProposedTrade{OpportunityID: opp.ID, Instrument: opp.Instrument, Quantity: decimal.NewFromInt(2)}

	result, err := e.Execute(context.Background(), opp, trade, nil)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeTimeout, result.Outcome)
	assert.True(t, result.ExecutedQty.GreaterThan(decimal.Zero))

	sell.mu.Lock()
	assert.GreaterOrEqual(t, len(sell.cancelled), 1, "sell leg and/or its flatten order should have been explicitly cancelled")
	sell.mu.Unlock()
}

func TestExecuteRejectsDuplicateAttemptForSameOpportunity(t *testing.T) {
	t.Parallel()
	e, _, _ := testEngine(decimal.NewFromInt(1), decimal.NewFromInt(1))
	opp := testOpportunity()
	trade := types.ProposedTrade{OpportunityID: opp.ID, Instrument: opp.Instrument, Quantity: decimal.NewFromInt(1)}

	_, err := e.Execute(context.Background(), opp, trade, nil)
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), opp, trade, nil)
	assert.Error(t, err)
}
