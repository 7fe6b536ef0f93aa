package allocator

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowarb/arbitrage-core/internal/config"
	"github.com/flowarb/arbitrage-core/internal/types"
)

func testOpportunity() types.Opportunity {
	return types.Opportunity{
		ID:                uuid.New(),
		Instrument:        "BTC-USDT",
		BuyVenue:          "binanceA",
		SellVenue:         "binanceB",
		BuyPrice:          decimal.NewFromInt(100),
		SellPrice:         decimal.NewFromInt(105),
		MaxQuantity:       decimal.NewFromInt(10),
		ExpectedProfitPct: decimal.NewFromFloat(4.0),
		Confidence:        decimal.NewFromFloat(0.99),
		DetectedTS:        time.Now(),
		Status:            types.OpportunityStatusDetected,
	}
}

func testAllocator() *Allocator {
	return NewAllocator(nil,
		config.AllocatorConfig{KellyFraction: 0.5, MaxPositionSize: 1000, MinTradeSize: 0.01, MaxExposurePct: 10},
	)
}

func TestAllocateSizesPositiveWhenEdgeExists(t *testing.T) {
	t.Parallel()
	a := testAllocator()
	trade, ok := a.Allocate(testOpportunity(), decimal.NewFromInt(10000))
	require.True(t, ok)
	assert.True(t, trade.Quantity.GreaterThan(decimal.Zero))
}

func TestAllocateClampsToOpportunityMaxQuantity(t *testing.T) {
	t.Parallel()
	a := testAllocator()
	opp := testOpportunity()
	opp.MaxQuantity = decimal.NewFromFloat(0.5)
	trade, ok := a.Allocate(opp, decimal.NewFromInt(1_000_000))
	require.True(t, ok)
	assert.True(t, trade.Quantity.LessThanOrEqual(decimal.NewFromFloat(0.5)))
}

func TestAllocateRejectsWhenExposureCapExhausted(t *testing.T) {
	t.Parallel()
	a := testAllocator()
	a.RecordExposure("BTC-USDT", decimal.NewFromInt(1000))
	_, ok := a.Allocate(testOpportunity(), decimal.NewFromInt(10000))
	assert.False(t, ok)
}

func TestAllocateRejectsNonPositiveEdge(t *testing.T) {
	t.Parallel()
	a := testAllocator()
	opp := testOpportunity()
	opp.ExpectedProfitPct = decimal.Zero
	_, ok := a.Allocate(opp, decimal.NewFromInt(10000))
	assert.False(t, ok)
}

func TestRecordOutcomeShiftsPerformanceWeight(t *testing.T) {
	t.Parallel()
	a := testAllocator()
	before := a.performanceWeight("BTC-USDT")
	a.RecordOutcome("BTC-USDT", false)
	a.RecordOutcome("BTC-USDT", false)
	after := a.performanceWeight("BTC-USDT")
	assert.True(t, after.LessThan(before))
}
