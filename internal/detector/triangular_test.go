package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowarb/arbitrage-core/internal/types"
)

func triTick(bid, bidQty, ask, askQty string) types.MarketTick {
	return types.MarketTick{
		Bid: decimal.RequireFromString(bid), BidQty: decimal.RequireFromString(bidQty),
		Ask: decimal.RequireFromString(ask), AskQty: decimal.RequireFromString(askQty),
	}
}

func TestFindTriangularOpportunitiesDetectsProfitableCycle(t *testing.T) {
	t.Parallel()
	ticks := map[types.InstrumentID]types.MarketTick{
		"BTC-USDT": triTick("50000", "1", "50010", "1"),
		"ETH-USDT": triTick("3000", "10", "3001", "10"),
		"ETH-BTC":  triTick("0.062", "10", "0.0621", "10"),
	}
	// Deliberately distort ETH-BTC so BTC->ETH->USDT->BTC nets a profit.
	ticks["ETH-BTC"] = triTick("0.058", "10", "0.0581", "10")

	opps := FindTriangularOpportunities("binance", ticks, decimal.NewFromFloat(0.01), time.Second)
	require.NotEmpty(t, opps)
	for _, o := range opps {
		assert.Len(t, o.Legs, 3)
		assert.True(t, o.ExpectedProfitPct.GreaterThan(decimal.NewFromFloat(0.01)))
	}
}

func TestFindTriangularOpportunitiesEmptyWithoutCrossRates(t *testing.T) {
	t.Parallel()
	ticks := map[types.InstrumentID]types.MarketTick{
		"BTC-USDT": triTick("50000", "1", "50001", "1"),
	}
	opps := FindTriangularOpportunities("binance", ticks, decimal.NewFromFloat(0.01), time.Second)
	assert.Empty(t, opps)
}

func TestUsesInstrumentPreventsRepeatedLeg(t *testing.T) {
	t.Parallel()
	path := []triangularEdge{{instrument: "BTC-USDT"}}
	assert.True(t, usesInstrument(path, "BTC-USDT"))
	assert.False(t, usesInstrument(path, "ETH-USDT"))
}
