// Package types defines the domain primitives and entities shared across
// the arbitrage core: market data, opportunities, orders, executions and
// orchestrator state. All monetary and quantity fields use decimal.Decimal;
// floating point is never used on a price or quantity path.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SequenceNo is a monotonic sequence number. The normalizer's envelope
// counter is a single counter across all (VenueID, InstrumentID) pairs;
// a MarketTick's own Sequence carries the venue's update ID for its pair.
type SequenceNo uint64

// VenueID identifies a configured trading venue.
type VenueID string

// InstrumentID is the canonical, venue-agnostic symbol for a tradable pair,
// e.g. "BTC-USDT". Per-venue wire symbols are mapped to/from this through
// the pipeline's symbol table.
type InstrumentID string

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType selects the order's execution style.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// TimeInForce controls how long an order remains active.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderState is a node in the order lifecycle state machine.
type OrderState string

const (
	OrderStateNew             OrderState = "new"
	OrderStateAccepted        OrderState = "accepted"
	OrderStatePartiallyFilled OrderState = "partially_filled"
	OrderStateFilled          OrderState = "filled"
	OrderStateCanceled        OrderState = "canceled"
	OrderStateRejected        OrderState = "rejected"
)

// OpportunityStatus tracks an opportunity through detection, claiming and
// terminal outcomes.
type OpportunityStatus string

const (
	OpportunityStatusDetected OpportunityStatus = "detected"
	OpportunityStatusClaimed  OpportunityStatus = "claimed"
	OpportunityStatusExpired  OpportunityStatus = "expired"
	OpportunityStatusExecuted OpportunityStatus = "executed"
	OpportunityStatusFailed   OpportunityStatus = "failed"
)

// OrchestratorMode is a state in the Idle/Live/WindingDown/Halted lifecycle.
type OrchestratorMode string

const (
	ModeIdle        OrchestratorMode = "idle"
	ModeLive        OrchestratorMode = "live"
	ModeWindingDown OrchestratorMode = "winding_down"
	ModeHalted      OrchestratorMode = "halted"
)

// MarketTick is a per-venue top-of-book plus last-trade snapshot.
type MarketTick struct {
	Venue      VenueID         `json:"venue"`
	Instrument InstrumentID    `json:"instrument"`
	Bid        decimal.Decimal `json:"bid"`
	BidQty     decimal.Decimal `json:"bid_qty"`
	Ask        decimal.Decimal `json:"ask"`
	AskQty     decimal.Decimal `json:"ask_qty"`
	Last       decimal.Decimal `json:"last"`
	Volume24h  decimal.Decimal `json:"volume_24h"`
	Sequence   SequenceNo      `json:"sequence"`
	MonoTS     time.Duration   `json:"-"`
	WallTS     time.Time       `json:"wall_ts"`
}

// PriceLevel is a single (price, quantity) rung of an order book side.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// OrderBookDelta is an incremental or snapshot update to one side of a book.
type OrderBookDelta struct {
	Venue       VenueID      `json:"venue"`
	Instrument  InstrumentID `json:"instrument"`
	Side        Side         `json:"side"`
	PriceLevels []PriceLevel `json:"price_levels"`
	IsSnapshot  bool         `json:"is_snapshot"`
	Sequence    SequenceNo   `json:"sequence"`
}

// Trade is a single executed trade observed on a venue's public stream.
type Trade struct {
	Venue      VenueID         `json:"venue"`
	Instrument InstrumentID    `json:"instrument"`
	Price      decimal.Decimal `json:"price"`
	Qty        decimal.Decimal `json:"qty"`
	TakerSide  Side            `json:"taker_side"`
	Sequence   SequenceNo      `json:"sequence"`
	WallTS     time.Time       `json:"wall_ts"`
}

// VolatilityScore is the scanner's composite assessment of an instrument on
// one venue over its rolling windows.
type VolatilityScore struct {
	Instrument       InstrumentID    `json:"instrument"`
	Venue            VenueID         `json:"venue"`
	Score            decimal.Decimal `json:"score"` // 0..100
	ShortVol         decimal.Decimal `json:"short_vol"`
	VolumeSurgeRatio decimal.Decimal `json:"volume_surge_ratio"`
	SpreadPct        decimal.Decimal `json:"spread_pct"`
	MonoTS           time.Duration   `json:"-"`
}

// Opportunity is a detected cross-venue (or triangular) price dislocation.
type Opportunity struct {
	ID                uuid.UUID         `json:"id"`
	Instrument        InstrumentID      `json:"instrument"`
	BuyVenue          VenueID           `json:"buy_venue"`
	SellVenue         VenueID           `json:"sell_venue"`
	BuyPrice          decimal.Decimal   `json:"buy_price"`
	SellPrice         decimal.Decimal   `json:"sell_price"`
	MaxQuantity       decimal.Decimal   `json:"max_quantity"`
	GrossProfitPct    decimal.Decimal   `json:"gross_profit_pct"`
	ExpectedProfitPct decimal.Decimal   `json:"expected_profit_pct"` // net of fees
	Confidence        decimal.Decimal   `json:"confidence"`          // 0..1
	Rank              decimal.Decimal   `json:"rank"`
	Legs              []TriangularLeg   `json:"legs,omitempty"` // non-empty for triangular opportunities
	DetectedTS        time.Time         `json:"detected_ts"`
	ExpiresTS         time.Time         `json:"expires_ts"`
	Status            OpportunityStatus `json:"status"`
}

// TriangularLeg is one hop of a single-venue 3-leg triangular cycle.
type TriangularLeg struct {
	Instrument InstrumentID    `json:"instrument"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
}

// ProposedTrade is the allocator's sizing decision for an opportunity.
type ProposedTrade struct {
	OpportunityID uuid.UUID       `json:"opportunity_id"`
	Instrument    InstrumentID    `json:"instrument"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// Order is a single-leg order sent to one venue.
type Order struct {
	ClientID      uuid.UUID       `json:"client_id"`
	VenueOrderID  string          `json:"venue_order_id,omitempty"`
	Venue         VenueID         `json:"venue"`
	Instrument    InstrumentID    `json:"instrument"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	TimeInForce   TimeInForce     `json:"time_in_force"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price,omitempty"`
	State         OrderState      `json:"state"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price,omitempty"`
	CreatedTS     time.Time       `json:"created_ts"`
	UpdatedTS     time.Time       `json:"updated_ts"`
}

// ExecutionOutcome classifies how an ExecutionResult's two legs resolved,
// distinguishing a clean fill from the deadline and no-fill paths so a
// caller doesn't have to re-derive it from the leg states.
type ExecutionOutcome string

const (
	OutcomeFilled      ExecutionOutcome = "filled"
	OutcomePartialFill ExecutionOutcome = "partial_fill"
	OutcomeTimeout     ExecutionOutcome = "timeout"
	OutcomeNoFills     ExecutionOutcome = "no_fills"
)

// ExecutionResult is the outcome of attempting to execute both legs of an
// opportunity.
type ExecutionResult struct {
	OpportunityID  uuid.UUID        `json:"opportunity_id"`
	BuyOrder       Order            `json:"buy_order"`
	SellOrder      Order            `json:"sell_order"`
	ExecutedQty    decimal.Decimal  `json:"executed_qty"`
	RealizedProfit decimal.Decimal  `json:"realized_profit"`
	SlippagePct    decimal.Decimal  `json:"slippage_pct"`
	Outcome        ExecutionOutcome `json:"outcome"`
	EndTS          time.Time        `json:"end_ts"`
}

// Position is a venue+instrument net position.
type Position struct {
	Instrument    InstrumentID    `json:"instrument"`
	Venue         VenueID         `json:"venue"`
	Qty           decimal.Decimal `json:"qty"` // signed
	AvgEntry      decimal.Decimal `json:"avg_entry"`
	Mark          decimal.Decimal `json:"mark"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// OrchestratorState is the current lifecycle snapshot of the risk
// supervisor.
type OrchestratorState struct {
	Mode              OrchestratorMode `json:"mode"`
	RiskThrottle      decimal.Decimal  `json:"risk_throttle"` // 0..1
	HaltReason        string           `json:"halt_reason,omitempty"`
	ConsecutiveLosses int              `json:"consecutive_losses"`
	DailyPnL          decimal.Decimal  `json:"daily_pnl"`
	SinceTS           time.Time        `json:"since_ts"`
	// CooldownElapsed is informational only: it tells an operator console
	// the configured cooldown has passed, so an Engage call is no longer
	// premature. It never triggers a transition by itself — Halted only
	// ever leaves via an explicit Engage call.
	CooldownElapsed bool `json:"cooldown_elapsed"`
}

// FeeSchedule is the per-venue maker/taker fee, expressed in basis points.
type FeeSchedule struct {
	MakerBps decimal.Decimal `json:"maker_bps"`
	TakerBps decimal.Decimal `json:"taker_bps"`
}

// OrderPolicy captures a venue's supported order semantics so the
// execution engine never has to special-case a venue by name.
type OrderPolicy struct {
	SupportsPostOnly bool        `json:"supports_post_only"`
	SupportsIOC      bool        `json:"supports_ioc"`
	DefaultTIF       TimeInForce `json:"default_tif"`
}

// DefaultOrderPolicy is the conservative fallback for an unrecognized venue.
func DefaultOrderPolicy() OrderPolicy {
	return OrderPolicy{SupportsPostOnly: false, SupportsIOC: false, DefaultTIF: TimeInForceGTC}
}
