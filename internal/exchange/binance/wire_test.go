package binance

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowarb/arbitrage-core/internal/types"
)

func TestWireSymbolStripsSeparator(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "BTCUSDT", wireSymbol("BTC-USDT"))
}

func TestInstrumentFromStreamReinsertsSeparatorForUSDT(t *testing.T) {
	t.Parallel()
	assert.Equal(t, types.InstrumentID("BTC-USDT"), instrumentFromStream("btcusdt@bookTicker"))
}

func TestWSBookTickerDecodesShortWireKeys(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"u":400900217,"s":"BNBUSDT","b":"25.35190000","B":"31.21000000","a":"25.36520000","A":"40.66000000"}`)

	var msg wsBookTicker
	require.NoError(t, json.Unmarshal(raw, &msg))

	tick := msg.toMarketTick("binance", "BNB-USDT")
	assert.True(t, tick.Bid.Equal(decimal.RequireFromString("25.35190000")))
	assert.True(t, tick.Ask.Equal(decimal.RequireFromString("25.36520000")))
	assert.Equal(t, types.SequenceNo(400900217), tick.Sequence)
}

func TestMapOrderStatusTerminalStates(t *testing.T) {
	t.Parallel()
	assert.Equal(t, types.OrderStateFilled, mapOrderStatus("FILLED"))
	assert.Equal(t, types.OrderStateCanceled, mapOrderStatus("EXPIRED"))
	assert.Equal(t, types.OrderStateRejected, mapOrderStatus("REJECTED"))
}

func TestOrderResponseComputesAverageFillPrice(t *testing.T) {
	t.Parallel()
	r := orderResponse{Status: "FILLED", ExecutedQty: "2", CummulativeQuoteQty: "200"}
	order := r.toOrder(types.Order{})
	assert.True(t, order.AvgFillPrice.Equal(decimal.NewFromInt(100)))
}

func TestBuildOrderPayloadIncludesPriceOnlyForLimit(t *testing.T) {
	t.Parallel()
	market := types.Order{Instrument: "BTC-USDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Qty: decimal.NewFromInt(1), ClientID: uuid.New()}
	payload := buildOrderPayload(market)
	assert.NotContains(t, payload.fields, "price")

	limit := market
	limit.Type = types.OrderTypeLimit
	limit.Price = decimal.NewFromInt(50000)
	limit.TimeInForce = types.TimeInForceGTC
	payload = buildOrderPayload(limit)
	assert.Contains(t, payload.fields, "price")
	assert.Contains(t, payload.canonical(), "price=50000")
}
