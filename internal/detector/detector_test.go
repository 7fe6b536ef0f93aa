package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowarb/arbitrage-core/internal/config"
	"github.com/flowarb/arbitrage-core/internal/types"
)

func newTestDetector() *Detector {
	return NewDetector(nil, config.DetectorConfig{MinProfitPct: 0.05, MinConfidence: 0.0, OpportunityTTL: time.Second}, nil, nil)
}

func tick(venue types.VenueID, bid, bidQty, ask, askQty string) types.MarketTick {
	return types.MarketTick{
		Venue: venue, Instrument: "BTC-USDT",
		Bid: decimal.RequireFromString(bid), BidQty: decimal.RequireFromString(bidQty),
		Ask: decimal.RequireFromString(ask), AskQty: decimal.RequireFromString(askQty),
		WallTS: time.Now(),
	}
}

func TestOnTickFindsProfitableCrossing(t *testing.T) {
	t.Parallel()
	d := newTestDetector()

	opps := d.OnTick(tick("binanceA", "100", "1", "101", "1"))
	assert.Empty(t, opps)

	opps = d.OnTick(tick("binanceB", "105", "1", "106", "1"))
	require.NotEmpty(t, opps)
	assert.Equal(t, types.VenueID("binanceA"), opps[0].BuyVenue)
	assert.Equal(t, types.VenueID("binanceB"), opps[0].SellVenue)
	assert.True(t, opps[0].ExpectedProfitPct.GreaterThan(decimal.Zero))
}

func TestEvaluatePairRejectsNonCrossingPrices(t *testing.T) {
	t.Parallel()
	d := newTestDetector()
	opp := d.evaluatePair(tick("a", "100", "1", "101", "1"), tick("b", "99", "1", "100", "1"))
	assert.Nil(t, opp)
}

func TestEvaluatePairRejectsSameVenue(t *testing.T) {
	t.Parallel()
	d := newTestDetector()
	opp := d.evaluatePair(tick("a", "100", "1", "101", "1"), tick("a", "105", "1", "106", "1"))
	assert.Nil(t, opp)
}

func TestConfidenceFallsWithHigherLatency(t *testing.T) {
	t.Parallel()
	d := newTestDetector()
	buy := tick("a", "100", "1", "101", "1")
	sell := tick("b", "110", "1", "111", "1")

	fast := d.confidence(buy, sell, decimal.NewFromInt(1), decimal.NewFromInt(1))

	d.UpdateLatency("a", 2*time.Second)
	d.UpdateLatency("b", 2*time.Second)
	slow := d.confidence(buy, sell, decimal.NewFromInt(1), decimal.NewFromInt(1))

	assert.True(t, slow.LessThan(fast))
}
