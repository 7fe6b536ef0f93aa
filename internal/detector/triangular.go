package detector

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flowarb/arbitrage-core/internal/types"
)

// triangularEdge is one directed conversion step: spend 1 unit of the
// source asset (implicit), receive rate units of 'to'.
type triangularEdge struct {
	to         string
	instrument types.InstrumentID
	side       types.Side
	rate       decimal.Decimal
	qty        decimal.Decimal
}

// FindTriangularOpportunities runs a bounded depth-3 search over a single
// venue's current order book snapshot, looking for 3-leg cycles that
// return to the starting asset with a net gain. Scope is intentionally
// single-venue: cross-venue legs would need the pairwise detector's
// transfer-latency accounting instead.
func FindTriangularOpportunities(venue types.VenueID, ticks map[types.InstrumentID]types.MarketTick, minProfitPct decimal.Decimal, ttl time.Duration) []types.Opportunity {
	graph := buildTriangularGraph(ticks)
	if len(graph) == 0 {
		return nil
	}

	var results []types.Opportunity
	for start := range graph {
		walkTriangles(venue, graph, start, start, decimal.NewFromInt(1), nil, minProfitPct, ttl, &results)
	}
	return results
}

func buildTriangularGraph(ticks map[types.InstrumentID]types.MarketTick) map[string][]triangularEdge {
	graph := make(map[string][]triangularEdge)
	for instrument, tick := range ticks {
		parts := strings.SplitN(string(instrument), "-", 2)
		if len(parts) != 2 || tick.Bid.IsZero() || tick.Ask.IsZero() {
			continue
		}
		base, quote := parts[0], parts[1]

		// Sell base for quote at the bid.
		graph[base] = append(graph[base], triangularEdge{
			to: quote, instrument: instrument, side: types.SideSell, rate: tick.Bid, qty: tick.BidQty,
		})
		// Buy base with quote at the ask: 1 quote buys 1/ask base.
		graph[quote] = append(graph[quote], triangularEdge{
			to: base, instrument: instrument, side: types.SideBuy,
			rate: decimal.NewFromInt(1).Div(tick.Ask), qty: tick.AskQty.Mul(tick.Ask),
		})
	}
	return graph
}

func walkTriangles(venue types.VenueID, graph map[string][]triangularEdge, start, current string, product decimal.Decimal, path []triangularEdge, minProfitPct decimal.Decimal, ttl time.Duration, results *[]types.Opportunity) {
	depth := len(path)
	if depth == 3 {
		if current != start {
			return
		}
		profitPct := product.Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
		if profitPct.LessThanOrEqual(minProfitPct) {
			return
		}
		*results = append(*results, buildTriangularOpportunity(venue, start, path, profitPct, ttl))
		return
	}

	for _, edge := range graph[current] {
		if depth == 2 && edge.to != start {
			continue
		}
		if usesInstrument(path, edge.instrument) {
			continue
		}
		walkTriangles(venue, graph, start, edge.to, product.Mul(edge.rate), append(path, edge), minProfitPct, ttl, results)
	}
}

func usesInstrument(path []triangularEdge, instrument types.InstrumentID) bool {
	for _, e := range path {
		if e.instrument == instrument {
			return true
		}
	}
	return false
}

func buildTriangularOpportunity(venue types.VenueID, start string, path []triangularEdge, profitPct decimal.Decimal, ttl time.Duration) types.Opportunity {
	legs := make([]types.TriangularLeg, len(path))
	maxQty := decimal.Zero
	for i, e := range path {
		legs[i] = types.TriangularLeg{Instrument: e.instrument, Side: e.side, Price: e.rate}
		if i == 0 || e.qty.LessThan(maxQty) {
			maxQty = e.qty
		}
	}
	now := time.Now()
	return types.Opportunity{
		ID:                uuid.New(),
		Instrument:        types.InstrumentID(start),
		BuyVenue:          venue,
		SellVenue:         venue,
		MaxQuantity:       maxQty,
		GrossProfitPct:    profitPct,
		ExpectedProfitPct: profitPct,
		Confidence:        decimal.NewFromFloat(0.7),
		Rank:              profitPct.Mul(decimal.NewFromFloat(0.6)).Add(decimal.NewFromFloat(0.7 * 100 * 0.4)),
		Legs:              legs,
		DetectedTS:        now,
		ExpiresTS:         now.Add(ttl),
		Status:            types.OpportunityStatusDetected,
	}
}
