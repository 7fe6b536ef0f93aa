// Package detector evaluates live market ticks for cross-venue and
// single-venue triangular arbitrage, ranking the opportunities it finds so
// the allocator can decide what capital, if any, to commit.
package detector

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flowarb/arbitrage-core/internal/config"
	"github.com/flowarb/arbitrage-core/internal/observability"
	"github.com/flowarb/arbitrage-core/internal/types"
)

const maxAcceptableLatency = 500 * time.Millisecond

// Detector evaluates every pair of venues quoting the same instrument for a
// profitable buy-low/sell-high crossing, following the same
// buy-at-ask/sell-at-bid shape as the teacher's ArbitrageStrategy but
// replacing its fixed-strength/fixed-confidence signal with the weighted
// confidence and ranking formula opportunities need before the allocator
// will size them.
type Detector struct {
	logger *observability.Logger

	minProfitPct  decimal.Decimal
	minConfidence decimal.Decimal
	ttl           time.Duration

	fees      map[types.VenueID]types.FeeSchedule
	fillRates map[types.VenueID]decimal.Decimal

	mu           sync.Mutex
	ticks        map[string]types.MarketTick
	byInstrument map[types.InstrumentID]map[types.VenueID]types.MarketTick
	volatility   map[string]types.VolatilityScore
	latency      map[types.VenueID]time.Duration
}

func NewDetector(logger *observability.Logger, cfg config.DetectorConfig, fees map[types.VenueID]types.FeeSchedule, fillRates map[types.VenueID]decimal.Decimal) *Detector {
	d := &Detector{
		logger:        logger,
		minProfitPct:  decimal.NewFromFloat(cfg.MinProfitPct),
		minConfidence: decimal.NewFromFloat(cfg.MinConfidence),
		ttl:           cfg.OpportunityTTL,
		fees:          fees,
		fillRates:     fillRates,
		ticks:         make(map[string]types.MarketTick),
		byInstrument:  make(map[types.InstrumentID]map[types.VenueID]types.MarketTick),
		volatility:    make(map[string]types.VolatilityScore),
		latency:       make(map[types.VenueID]time.Duration),
	}
	if d.ttl == 0 {
		d.ttl = 5 * time.Second
	}
	if d.fees == nil {
		d.fees = make(map[types.VenueID]types.FeeSchedule)
	}
	if d.fillRates == nil {
		d.fillRates = make(map[types.VenueID]decimal.Decimal)
	}
	return d
}

func tickKey(venue types.VenueID, instrument types.InstrumentID) string {
	return string(venue) + "|" + string(instrument)
}

// UpdateVolatility feeds the scanner's latest score in, used as the
// stability component of confidence.
func (d *Detector) UpdateVolatility(score types.VolatilityScore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volatility[tickKey(score.Venue, score.Instrument)] = score
}

// UpdateLatency records a venue's current round-trip latency, used as the
// latency component of confidence.
func (d *Detector) UpdateLatency(venue types.VenueID, avg time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latency[venue] = avg
}

// OnTick records the tick and re-evaluates every other venue currently
// quoting the same instrument, returning any opportunities found, ranked
// highest-first.
func (d *Detector) OnTick(tick types.MarketTick) []types.Opportunity {
	d.mu.Lock()
	d.ticks[tickKey(tick.Venue, tick.Instrument)] = tick
	if d.byInstrument[tick.Instrument] == nil {
		d.byInstrument[tick.Instrument] = make(map[types.VenueID]types.MarketTick)
	}
	d.byInstrument[tick.Instrument][tick.Venue] = tick
	peers := make([]types.MarketTick, 0, len(d.byInstrument[tick.Instrument]))
	for venue, t := range d.byInstrument[tick.Instrument] {
		if venue == tick.Venue {
			continue
		}
		peers = append(peers, t)
	}
	d.mu.Unlock()

	var found []types.Opportunity
	for _, peer := range peers {
		if opp := d.evaluatePair(tick, peer); opp != nil {
			found = append(found, *opp)
		}
		if opp := d.evaluatePair(peer, tick); opp != nil {
			found = append(found, *opp)
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Rank.GreaterThan(found[j].Rank) })
	return found
}

// evaluatePair checks buying on buy (at its ask) and selling on sell (at
// its bid); nil if there's no profitable, confident crossing.
func (d *Detector) evaluatePair(buy, sell types.MarketTick) *types.Opportunity {
	if buy.Venue == sell.Venue || buy.Instrument != sell.Instrument {
		return nil
	}
	buyPx, sellPx := buy.Ask, sell.Bid
	if buyPx.IsZero() || sellPx.LessThanOrEqual(buyPx) {
		return nil
	}

	grossProfitPct := sellPx.Sub(buyPx).Div(buyPx).Mul(decimal.NewFromInt(100))

	buyFeePct := d.fees[buy.Venue].TakerBps.Div(decimal.NewFromInt(100))
	sellFeePct := d.fees[sell.Venue].TakerBps.Div(decimal.NewFromInt(100))
	netProfitPct := grossProfitPct.Sub(buyFeePct).Sub(sellFeePct)
	if netProfitPct.LessThan(d.minProfitPct) {
		return nil
	}

	maxQty := decimal.Min(buy.AskQty, sell.BidQty)
	if maxQty.IsZero() {
		return nil
	}

	confidence := d.confidence(buy, sell, netProfitPct, maxQty)
	if confidence.LessThan(d.minConfidence) {
		return nil
	}

	rank := netProfitPct.Mul(decimal.NewFromFloat(0.6)).
		Add(confidence.Mul(decimal.NewFromInt(100)).Mul(decimal.NewFromFloat(0.4)))

	now := time.Now()
	return &types.Opportunity{
		ID:                uuid.New(),
		Instrument:        buy.Instrument,
		BuyVenue:          buy.Venue,
		SellVenue:         sell.Venue,
		BuyPrice:          buyPx,
		SellPrice:         sellPx,
		MaxQuantity:       maxQty,
		GrossProfitPct:    grossProfitPct,
		ExpectedProfitPct: netProfitPct,
		Confidence:        confidence,
		Rank:              rank,
		DetectedTS:        now,
		ExpiresTS:         now.Add(d.ttl),
		Status:            types.OpportunityStatusDetected,
	}
}

// confidence blends five components per their documented weights: profit
// margin (30%), available depth (25%), the venues' historical fill rate
// (20%), round-trip latency (15%) and short-term volatility stability
// (10%). Depth is normalized against a one-unit reference size since the
// detector has no portfolio-scale context of its own; the allocator is
// what turns this into an actual position size.
func (d *Detector) confidence(buy, sell types.MarketTick, netProfitPct, maxQty decimal.Decimal) decimal.Decimal {
	profitScore := clamp01(netProfitPct.Div(decimal.NewFromInt(2)))
	depthScore := clamp01(maxQty)

	d.mu.Lock()
	buyFill, ok := d.fillRates[buy.Venue]
	if !ok {
		buyFill = decimal.NewFromFloat(0.9)
	}
	sellFill, ok := d.fillRates[sell.Venue]
	if !ok {
		sellFill = decimal.NewFromFloat(0.9)
	}
	buyLatency := d.latency[buy.Venue]
	sellLatency := d.latency[sell.Venue]
	volSum := decimal.Zero
	volCount := 0
	if v, ok := d.volatility[tickKey(buy.Venue, buy.Instrument)]; ok {
		volSum = volSum.Add(v.ShortVol)
		volCount++
	}
	if v, ok := d.volatility[tickKey(sell.Venue, sell.Instrument)]; ok {
		volSum = volSum.Add(v.ShortVol)
		volCount++
	}
	d.mu.Unlock()

	fillScore := buyFill.Add(sellFill).Div(decimal.NewFromInt(2))

	totalLatency := buyLatency + sellLatency
	latencyScore := clamp01(decimal.NewFromInt(1).Sub(
		decimal.NewFromFloat(totalLatency.Seconds()).Div(decimal.NewFromFloat(2 * maxAcceptableLatency.Seconds())),
	))

	volStabilityScore := decimal.NewFromInt(1)
	if volCount > 0 {
		avgVol := volSum.Div(decimal.NewFromInt(int64(volCount)))
		volStabilityScore = clamp01(decimal.NewFromInt(1).Sub(avgVol.Mul(decimal.NewFromInt(50))))
	}

	return profitScore.Mul(decimal.NewFromFloat(0.30)).
		Add(depthScore.Mul(decimal.NewFromFloat(0.25))).
		Add(fillScore.Mul(decimal.NewFromFloat(0.20))).
		Add(latencyScore.Mul(decimal.NewFromFloat(0.15))).
		Add(volStabilityScore.Mul(decimal.NewFromFloat(0.10)))
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
