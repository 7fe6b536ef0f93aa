// Package pipeline normalizes raw connector output into validated,
// sequenced domain events: structural validation, crossed-book
// quarantine, and a short reorder window before requesting a resync.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowarb/arbitrage-core/internal/events"
	"github.com/flowarb/arbitrage-core/internal/observability"
	"github.com/flowarb/arbitrage-core/internal/types"
)

// CrossedBook is returned when bid > ask on a tick. The tick is logged as
// quarantined and never published; no quarantine event is emitted.
type CrossedBook struct {
	Instrument types.InstrumentID
	Venue      types.VenueID
}

func (e CrossedBook) Error() string {
	return fmt.Sprintf("crossed book quarantined: %s on %s", e.Instrument, e.Venue)
}

// StaleSequence describes a delta whose sequence number has already been
// seen. Normalize does not return it: a stale tick is held and later
// discarded with a logged resync request.
type StaleSequence struct {
	Expected types.SequenceNo
	Got      types.SequenceNo
}

func (e StaleSequence) Error() string {
	return fmt.Sprintf("stale sequence: expected >= %d, got %d", e.Expected, e.Got)
}

const reorderWindow = 50 * time.Millisecond

type pendingTick struct {
	tick      types.MarketTick
	arrivedAt time.Time
}

// Normalizer validates and sequences MarketTicks per (venue, instrument)
// key before they are published to the Event Bus, grounded on the
// teacher's binance.websocket message-parsing pipeline (wire -> domain
// conversion) extended with the sequencing/reorder logic spec.md requires.
type Normalizer struct {
	bus     *events.Bus
	logger  *observability.Logger
	symbols *SymbolTable

	mu       sync.Mutex
	lastSeq  map[string]types.SequenceNo
	sequence types.SequenceNo
	pending  map[string][]pendingTick
}

func NewNormalizer(bus *events.Bus, logger *observability.Logger, symbols *SymbolTable) *Normalizer {
	return &Normalizer{
		bus:     bus,
		logger:  logger,
		symbols: symbols,
		lastSeq: make(map[string]types.SequenceNo),
		pending: make(map[string][]pendingTick),
	}
}

func keyOf(venue types.VenueID, instrument types.InstrumentID) string {
	return string(venue) + "|" + string(instrument)
}

// Normalize validates structural invariants (bid <= ask) and per-key
// sequencing, assigns the pipeline's own monotonic SequenceNo, and
// publishes a MarketEnvelope. A tick whose sequence is not above the last
// published one for its key is held, never published, and dropped with a
// resync request logged once it is older than reorderWindow at a later
// Normalize call for the same key.
func (n *Normalizer) Normalize(ctx context.Context, tick types.MarketTick) error {
	if tick.Bid.GreaterThan(tick.Ask) {
		if n.logger != nil {
			n.logger.Warn(ctx, "crossed book quarantined", map[string]interface{}{
				"venue": string(tick.Venue), "instrument": string(tick.Instrument),
			})
		}
		return CrossedBook{Instrument: tick.Instrument, Venue: tick.Venue}
	}

	key := keyOf(tick.Venue, tick.Instrument)

	n.mu.Lock()
	defer n.mu.Unlock()

	last, seen := n.lastSeq[key]
	if seen && tick.Sequence <= last {
		// Could still be a legitimately-reordered tick; hold briefly.
		n.pending[key] = append(n.pending[key], pendingTick{tick: tick, arrivedAt: time.Now()})
		n.drainPending(ctx, key)
		return nil
	}

	n.lastSeq[key] = tick.Sequence
	n.sequence++
	n.publish(tick)
	n.drainPending(ctx, key)
	return nil
}

// drainPending flushes held ticks whose sequence is above the key's last
// published one (a held tick never is, since it was at or below it when
// held and that value only grows), and discards ones that have sat past
// reorderWindow (requesting a resync via a log
// event; the connector's snapshot-on-reconnect path is what actually
// resyncs the book).
func (n *Normalizer) drainPending(ctx context.Context, key string) {
	held := n.pending[key]
	if len(held) == 0 {
		return
	}
	sort.Slice(held, func(i, j int) bool { return held[i].tick.Sequence < held[j].tick.Sequence })

	remaining := held[:0]
	for _, p := range held {
		last := n.lastSeq[key]
		switch {
		case p.tick.Sequence > last:
			n.lastSeq[key] = p.tick.Sequence
			n.publish(p.tick)
		case time.Since(p.arrivedAt) > reorderWindow:
			if n.logger != nil {
				n.logger.Warn(ctx, "discarding stale delta past reorder window, requesting resync", map[string]interface{}{
					"key": key, "sequence": uint64(p.tick.Sequence),
				})
			}
		default:
			remaining = append(remaining, p)
		}
	}
	n.pending[key] = remaining
}

func (n *Normalizer) publish(tick types.MarketTick) {
	n.bus.Publish(events.NewMarketEnvelope(n.sequence, tick))
}
