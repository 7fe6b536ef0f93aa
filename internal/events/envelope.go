// Package events implements the typed event envelope and the bus that
// fans events out to subscribers. Envelopes carry one of the domain event
// kinds; the bus itself never inspects the payload.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowarb/arbitrage-core/internal/types"
)

// Kind identifies which payload an Envelope carries.
type Kind string

const (
	KindMarket    Kind = "market"
	KindSignal    Kind = "signal"
	KindOrder     Kind = "order"
	KindExecution Kind = "execution"
	KindRisk      Kind = "risk"
)

// Envelope is the single wire type carried on the bus. Exactly one payload
// field is populated, selected by Kind. Envelopes are immutable after
// Publish: subscribers must not mutate the payload fields.
type Envelope struct {
	Kind          Kind
	Sequence      types.SequenceNo
	CorrelationID uuid.UUID
	PublishedTS   time.Time

	Market    *types.MarketTick
	Signal    *types.Opportunity
	Order     *types.Order
	Execution *types.ExecutionResult
	Risk      *types.OrchestratorState
}

// Key returns the ordering key for envelopes that carry a
// (venue, instrument) pair, or "" for envelopes that do not (e.g. risk
// state). The bus does not call Key: its per-key delivery order comes from
// serializing every Publish.
func (e Envelope) Key() string {
	switch e.Kind {
	case KindMarket:
		if e.Market == nil {
			return ""
		}
		return string(e.Market.Venue) + "|" + string(e.Market.Instrument)
	case KindSignal:
		if e.Signal == nil {
			return ""
		}
		return string(e.Signal.BuyVenue) + "|" + string(e.Signal.Instrument)
	case KindOrder:
		if e.Order == nil {
			return ""
		}
		return string(e.Order.Venue) + "|" + string(e.Order.Instrument)
	case KindExecution:
		if e.Execution == nil {
			return ""
		}
		return string(e.Execution.BuyOrder.Venue) + "|" + string(e.Execution.BuyOrder.Instrument)
	default:
		return ""
	}
}

func NewMarketEnvelope(seq types.SequenceNo, tick types.MarketTick) Envelope {
	return Envelope{Kind: KindMarket, Sequence: seq, PublishedTS: time.Now(), Market: &tick}
}

func NewSignalEnvelope(seq types.SequenceNo, opp types.Opportunity) Envelope {
	return Envelope{Kind: KindSignal, Sequence: seq, CorrelationID: opp.ID, PublishedTS: time.Now(), Signal: &opp}
}

func NewOrderEnvelope(seq types.SequenceNo, order types.Order) Envelope {
	return Envelope{Kind: KindOrder, Sequence: seq, CorrelationID: order.ClientID, PublishedTS: time.Now(), Order: &order}
}

func NewExecutionEnvelope(seq types.SequenceNo, result types.ExecutionResult) Envelope {
	return Envelope{Kind: KindExecution, Sequence: seq, CorrelationID: result.OpportunityID, PublishedTS: time.Now(), Execution: &result}
}

func NewRiskEnvelope(seq types.SequenceNo, state types.OrchestratorState) Envelope {
	return Envelope{Kind: KindRisk, Sequence: seq, PublishedTS: time.Now(), Risk: &state}
}
