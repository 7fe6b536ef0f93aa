// Package allocator sizes a detected opportunity into a concrete quantity
// to trade, using fractional-Kelly position sizing bounded by a chain of
// hard constraints.
package allocator

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/flowarb/arbitrage-core/internal/config"
	"github.com/flowarb/arbitrage-core/internal/observability"
	"github.com/flowarb/arbitrage-core/internal/types"
)

// Allocator turns an Opportunity into a ProposedTrade. Sizing itself
// follows the Kelly criterion; the headroom-clamping chain that follows
// is grounded on the teacher pack's risk.Manager.RemainingBudget pattern
// (per-market headroom = cap - current exposure, take the smaller of
// several headrooms) generalized into an ordered list of constraints
// that short-circuit on the first zero.
type Allocator struct {
	logger *observability.Logger

	kellyFraction   decimal.Decimal
	maxPositionSize decimal.Decimal
	minTradeSize    decimal.Decimal
	maxExposurePct  decimal.Decimal // fraction of account equity, e.g. 0.20

	mu          sync.Mutex
	exposureUSD map[types.InstrumentID]decimal.Decimal
	performance map[types.InstrumentID]decimal.Decimal
}

func NewAllocator(logger *observability.Logger, cfg config.AllocatorConfig) *Allocator {
	return &Allocator{
		logger:          logger,
		kellyFraction:   decimal.NewFromFloat(cfg.KellyFraction),
		maxPositionSize: decimal.NewFromFloat(cfg.MaxPositionSize),
		minTradeSize:    decimal.NewFromFloat(cfg.MinTradeSize),
		maxExposurePct:  decimal.NewFromFloat(cfg.MaxExposurePct / 100),
		exposureUSD:     make(map[types.InstrumentID]decimal.Decimal),
		performance:     make(map[types.InstrumentID]decimal.Decimal),
	}
}

// RecordExposure updates the allocator's view of how much notional capital
// (quantity * fill price, in the account's quote currency) is currently
// committed to an instrument, so the exposure-cap constraint reflects live
// state rather than just what this allocator has itself proposed.
func (a *Allocator) RecordExposure(instrument types.InstrumentID, notionalUSD decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exposureUSD[instrument] = notionalUSD
}

// RecordOutcome feeds a realized win/loss back in as an EWMA-smoothed
// performance weight, which down-weights the Kelly win probability for
// instruments that have been executing worse than their detected
// confidence implied.
func (a *Allocator) RecordOutcome(instrument types.InstrumentID, won bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	outcome := decimal.Zero
	if won {
		outcome = decimal.NewFromInt(1)
	}
	prev, ok := a.performance[instrument]
	if !ok {
		a.performance[instrument] = outcome
		return
	}
	const alpha = 0.2
	a.performance[instrument] = prev.Mul(decimal.NewFromFloat(1 - alpha)).Add(outcome.Mul(decimal.NewFromFloat(alpha)))
}

func (a *Allocator) performanceWeight(instrument types.InstrumentID) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.performance[instrument]; ok {
		return w
	}
	return decimal.NewFromFloat(0.5) // neutral prior until enough trades settle
}

// Allocate sizes the opportunity against the given account equity. ok is
// false when any constraint in the chain zeroes out the size: no capital
// is committed rather than committing a token amount below minTradeSize.
func (a *Allocator) Allocate(opp types.Opportunity, accountEquity decimal.Decimal) (types.ProposedTrade, bool) {
	b := opp.ExpectedProfitPct.Div(decimal.NewFromInt(100))
	if b.LessThanOrEqual(decimal.Zero) {
		return types.ProposedTrade{}, false
	}

	// perf is an EWMA win rate in [0,1] with a neutral 0.5 prior; centering
	// the correction factor there means an instrument with no track record
	// yet sizes off confidence alone, and only a demonstrated run of
	// losses pulls the effective win probability down.
	perf := a.performanceWeight(opp.Instrument)
	factor := decimal.NewFromFloat(0.5).Add(perf)
	if factor.GreaterThan(decimal.NewFromInt(1)) {
		factor = decimal.NewFromInt(1)
	}
	p := clamp01(opp.Confidence.Mul(factor))
	q := decimal.NewFromInt(1).Sub(p)

	kellyPct := b.Mul(p).Sub(q).Div(b)
	if kellyPct.LessThanOrEqual(decimal.Zero) {
		return types.ProposedTrade{}, false
	}
	kellyPct = kellyPct.Mul(a.kellyFraction)

	qty := accountEquity.Mul(kellyPct).Div(opp.BuyPrice)

	// Ordered constraints, each clamping or zeroing what the previous
	// stage allowed. The chain stops at the first constraint that drives
	// the size to zero, rather than evaluating the rest for no reason.
	qty = clampPositive(qty, a.maxPositionSize)
	if qty.IsZero() {
		return types.ProposedTrade{}, false
	}

	qty = clampPositive(qty, opp.MaxQuantity)
	if qty.IsZero() {
		return types.ProposedTrade{}, false
	}

	// current_instrument_exposure + size*price <= max_exposure_pct *
	// available_capital: headroom is denominated in notional capital, not
	// raw quantity, so it is converted back to a quantity cap via the
	// opportunity's buy price before clamping qty.
	a.mu.Lock()
	currentUSD := a.exposureUSD[opp.Instrument]
	a.mu.Unlock()
	maxExposureUSD := accountEquity.Mul(a.maxExposurePct)
	headroomUSD := maxExposureUSD.Sub(currentUSD)
	if headroomUSD.LessThanOrEqual(decimal.Zero) || opp.BuyPrice.LessThanOrEqual(decimal.Zero) {
		return types.ProposedTrade{}, false
	}
	qty = clampPositive(qty, headroomUSD.Div(opp.BuyPrice))

	if qty.LessThan(a.minTradeSize) {
		return types.ProposedTrade{}, false
	}

	return types.ProposedTrade{OpportunityID: opp.ID, Instrument: opp.Instrument, Quantity: qty}, true
}

func clamp01(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return d
}

func clampPositive(qty, limit decimal.Decimal) decimal.Decimal {
	if limit.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if qty.GreaterThan(limit) {
		return limit
	}
	return qty
}
