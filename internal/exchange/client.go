// Package exchange defines the venue-agnostic ExchangeClient trait and the
// supporting authentication and rate-limiting abstractions every concrete
// connector (internal/exchange/binance, ...) implements against.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowarb/arbitrage-core/internal/types"
)

// ExchangeClient is the uniform trading and market-data surface every
// venue connector implements. Implementations own their network
// resources, authentication and rate limiting; callers never touch a
// venue's wire protocol directly.
type ExchangeClient interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	VenueID() types.VenueID

	// Market data
	GetTicker(ctx context.Context, instrument types.InstrumentID) (types.MarketTick, error)
	GetOrderBook(ctx context.Context, instrument types.InstrumentID, depth int) ([]types.OrderBookDelta, error)
	StreamTicks(ctx context.Context, instruments []types.InstrumentID) (<-chan types.MarketTick, error)
	StreamBookDeltas(ctx context.Context, instruments []types.InstrumentID) (<-chan types.OrderBookDelta, error)
	StreamTrades(ctx context.Context, instruments []types.InstrumentID) (<-chan types.Trade, error)

	// Trading
	PlaceOrder(ctx context.Context, order types.Order) (types.Order, error)
	CancelOrder(ctx context.Context, clientID string) error
	GetOrder(ctx context.Context, clientID string) (types.Order, error)
	GetOpenOrders(ctx context.Context, instrument types.InstrumentID) ([]types.Order, error)

	// Advanced order types
	PlaceStopLoss(ctx context.Context, order types.Order, stopPrice decimal.Decimal) (types.Order, error)
	PlaceTakeProfit(ctx context.Context, order types.Order, triggerPrice decimal.Decimal) (types.Order, error)
	PlaceIceberg(ctx context.Context, order types.Order, visibleQty decimal.Decimal) (types.Order, error)
	PlaceTWAP(ctx context.Context, order types.Order, slices int, interval time.Duration) ([]types.Order, error)

	// Account
	GetBalances(ctx context.Context) (map[string]decimal.Decimal, error)
	GetPositionRisk(ctx context.Context, instrument types.InstrumentID) (types.Position, error)
	GetOrderPolicy() types.OrderPolicy
	GetFeeSchedule() types.FeeSchedule

	// Diagnostics
	GetLatencyStats() LatencyStats
	GetConnectionStats() ConnectionStats
}

// LatencyStats summarizes observed REST round-trip latency for a
// connector, copy-on-read to stay race-safe under concurrent callers.
type LatencyStats struct {
	Count      int64
	AvgMicros  int64
	P99Micros  int64
	LastMicros int64
}

// ConnectionStats summarizes a connector's WS connection health.
type ConnectionStats struct {
	Connected         bool
	ReconnectCount    int
	LastReconnectTS   time.Time
	LastMessageTS     time.Time
	SubscribedSymbols int
}

// RateLimited is returned by a connector call that was throttled rather
// than silently blocked. Callers that want to wait instead opt in
// explicitly via the rate limiter's Wait method.
type RateLimited struct {
	RetryAfter time.Duration
}

func (e RateLimited) Error() string {
	return "rate limited, retry after " + e.RetryAfter.String()
}

// OrderRejected is returned when a venue rejects an order outright.
type OrderRejected struct {
	VenueCode string
	Reason    string
}

func (e OrderRejected) Error() string {
	return "order rejected (" + e.VenueCode + "): " + e.Reason
}
