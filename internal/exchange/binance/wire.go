package binance

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowarb/arbitrage-core/internal/types"
)

// wireSymbol converts a canonical InstrumentID ("BTC-USDT") to Binance's
// wire format ("BTCUSDT"). The reverse mapping lives in the pipeline's
// symbol table, which knows about every configured venue at once; this
// connector only needs the one-directional conversion to build requests.
func wireSymbol(instrument types.InstrumentID) string {
	return strings.ReplaceAll(string(instrument), "-", "")
}

// tickerResponse mirrors the REST GET /api/v3/ticker/bookTicker payload,
// which uses long field names and carries no update ID — REST snapshots
// never go through the normalizer's sequencing path, so a zero Sequence
// there is fine.
type tickerResponse struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
}

func (r tickerResponse) toMarketTick(venue types.VenueID, instrument types.InstrumentID) types.MarketTick {
	return types.MarketTick{
		Venue:      venue,
		Instrument: instrument,
		Bid:        mustDecimal(r.BidPrice),
		BidQty:     mustDecimal(r.BidQty),
		Ask:        mustDecimal(r.AskPrice),
		AskQty:     mustDecimal(r.AskQty),
		WallTS:     time.Now(),
	}
}

// wsBookTicker mirrors the <symbol>@bookTicker stream payload, which uses
// Binance's short wire keys and, unlike the REST endpoint, carries "u":
// the book's internal update ID. This is what lets the normalizer tell
// consecutive top-of-book snapshots apart instead of seeing Sequence
// stuck at zero on every tick.
type wsBookTicker struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

func (r wsBookTicker) toMarketTick(venue types.VenueID, instrument types.InstrumentID) types.MarketTick {
	return types.MarketTick{
		Venue:      venue,
		Instrument: instrument,
		Bid:        mustDecimal(r.BidPrice),
		BidQty:     mustDecimal(r.BidQty),
		Ask:        mustDecimal(r.AskPrice),
		AskQty:     mustDecimal(r.AskQty),
		Sequence:   types.SequenceNo(r.UpdateID),
		WallTS:     time.Now(),
	}
}

type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// toOrderBookDeltas splits a depth snapshot into one delta per side, since
// types.OrderBookDelta carries a single Side discriminator. Binance's
// partial-depth stream always sends both sides together, so callers get
// both deltas from one message.
func (r depthResponse) toOrderBookDeltas(venue types.VenueID, instrument types.InstrumentID) []types.OrderBookDelta {
	deltas := make([]types.OrderBookDelta, 0, 2)
	if asks := levelsFrom(r.Asks); len(asks) > 0 {
		deltas = append(deltas, types.OrderBookDelta{
			Venue: venue, Instrument: instrument, Side: types.SideSell,
			PriceLevels: asks, IsSnapshot: true, Sequence: types.SequenceNo(r.LastUpdateID),
		})
	}
	if bids := levelsFrom(r.Bids); len(bids) > 0 {
		deltas = append(deltas, types.OrderBookDelta{
			Venue: venue, Instrument: instrument, Side: types.SideBuy,
			PriceLevels: bids, IsSnapshot: true, Sequence: types.SequenceNo(r.LastUpdateID),
		})
	}
	return deltas
}

func levelsFrom(raw [][]string) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) != 2 {
			continue
		}
		levels = append(levels, types.PriceLevel{Price: mustDecimal(lvl[0]), Qty: mustDecimal(lvl[1])})
	}
	return levels
}

type orderResponse struct {
	ClientOrderID      string `json:"clientOrderId"`
	OrderID            int64  `json:"orderId"`
	Status             string `json:"status"`
	ExecutedQty        string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

func (r orderResponse) toOrder(base types.Order) types.Order {
	base.VenueOrderID = fmt.Sprintf("%d", r.OrderID)
	base.State = mapOrderStatus(r.Status)
	base.FilledQty = mustDecimal(r.ExecutedQty)
	if !base.FilledQty.IsZero() {
		base.AvgFillPrice = mustDecimal(r.CummulativeQuoteQty).Div(base.FilledQty)
	}
	base.UpdatedTS = time.Now()
	return base
}

func mapOrderStatus(status string) types.OrderState {
	switch status {
	case "NEW":
		return types.OrderStateAccepted
	case "PARTIALLY_FILLED":
		return types.OrderStatePartiallyFilled
	case "FILLED":
		return types.OrderStateFilled
	case "CANCELED", "EXPIRED":
		return types.OrderStateCanceled
	case "REJECTED":
		return types.OrderStateRejected
	default:
		return types.OrderStateNew
	}
}

type accountResponse struct {
	Balances []balanceEntry `json:"balances"`
}

type balanceEntry struct {
	Asset string          `json:"asset"`
	Free  decimal.Decimal `json:"free"`
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// orderPayload is the canonicalized request built from a types.Order,
// ready to sign and submit. canonical() returns the query-string form
// Binance's HMAC scheme signs over (helpers.go's signRequest convention);
// form() is the same fields as a POST body.
type orderPayload struct {
	fields []string
	values map[string]string
}

func buildOrderPayload(order types.Order) orderPayload {
	values := map[string]string{
		"symbol":           wireSymbol(order.Instrument),
		"side":             strings.ToUpper(string(order.Side)),
		"type":             mapOrderType(order.Type),
		"quantity":         order.Qty.String(),
		"newClientOrderId": order.ClientID.String(),
	}
	fields := []string{"symbol", "side", "type", "quantity", "newClientOrderId"}
	if order.Type == types.OrderTypeLimit {
		values["price"] = order.Price.String()
		values["timeInForce"] = string(order.TimeInForce)
		fields = append(fields, "price", "timeInForce")
	}
	return orderPayload{fields: fields, values: values}
}

func mapOrderType(t types.OrderType) string {
	if t == types.OrderTypeMarket {
		return "MARKET"
	}
	return "LIMIT"
}

func (p orderPayload) canonical() string {
	var sb strings.Builder
	for i, f := range p.fields {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(f)
		sb.WriteByte('=')
		sb.WriteString(p.values[f])
	}
	return sb.String()
}

func (p orderPayload) form() map[string]string {
	return p.values
}
