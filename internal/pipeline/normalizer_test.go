package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowarb/arbitrage-core/internal/events"
	"github.com/flowarb/arbitrage-core/internal/types"
)

func testTick(seq types.SequenceNo, bid, ask string) types.MarketTick {
	return types.MarketTick{
		Venue:      "binance",
		Instrument: "BTC-USDT",
		Bid:        decimal.RequireFromString(bid),
		Ask:        decimal.RequireFromString(ask),
		Sequence:   seq,
		WallTS:     time.Now(),
	}
}

func TestNormalizeRejectsCrossedBook(t *testing.T) {
	t.Parallel()
	bus := events.NewBus(nil)
	n := NewNormalizer(bus, nil, NewSymbolTable())

	err := n.Normalize(context.Background(), testTick(1, "101", "100"))
	var crossed CrossedBook
	require.ErrorAs(t, err, &crossed)
}

func TestNormalizePublishesInOrderTicks(t *testing.T) {
	t.Parallel()
	bus := events.NewBus(nil)
	_, ch := bus.Subscribe(4, events.Block)
	n := NewNormalizer(bus, nil, NewSymbolTable())

	require.NoError(t, n.Normalize(context.Background(), testTick(1, "100", "101")))
	require.NoError(t, n.Normalize(context.Background(), testTick(2, "100", "102")))

	env := <-ch
	assert.Equal(t, types.SequenceNo(1), env.Market.Sequence)
	assert.Equal(t, types.SequenceNo(1), env.Sequence)
	env = <-ch
	assert.Equal(t, types.SequenceNo(2), env.Market.Sequence)
	assert.Equal(t, types.SequenceNo(2), env.Sequence)
}

func TestNormalizeHoldsOutOfOrderWithinReorderWindow(t *testing.T) {
	t.Parallel()
	bus := events.NewBus(nil)
	_, ch := bus.Subscribe(4, events.Block)
	n := NewNormalizer(bus, nil, NewSymbolTable())

	require.NoError(t, n.Normalize(context.Background(), testTick(5, "100", "101")))
	<-ch // drain the first publish

	// Sequence 4 arrives late; it's behind the last-seen 5, so it is held
	// rather than published or immediately discarded.
	require.NoError(t, n.Normalize(context.Background(), testTick(4, "99", "100")))

	select {
	case <-ch:
		t.Fatal("stale-but-recent tick should not publish immediately")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestNormalizeDiscardsStaleTickPastReorderWindow(t *testing.T) {
	t.Parallel()
	bus := events.NewBus(nil)
	n := NewNormalizer(bus, nil, NewSymbolTable())

	require.NoError(t, n.Normalize(context.Background(), testTick(5, "100", "101")))

	n.mu.Lock()
	n.pending[keyOf("binance", "BTC-USDT")] = []pendingTick{
		{tick: testTick(3, "98", "99"), arrivedAt: time.Now().Add(-reorderWindow * 2)},
	}
	n.mu.Unlock()

	n.drainPending(context.Background(), keyOf("binance", "BTC-USDT"))

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Empty(t, n.pending[keyOf("binance", "BTC-USDT")])
}
