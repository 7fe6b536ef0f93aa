// Package execution turns an allocator decision into two concurrently
// placed venue orders, watches them to a fill or a deadline, and
// reconciles any mismatch between the legs.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/flowarb/arbitrage-core/internal/config"
	"github.com/flowarb/arbitrage-core/internal/events"
	"github.com/flowarb/arbitrage-core/internal/exchange"
	"github.com/flowarb/arbitrage-core/internal/observability"
	"github.com/flowarb/arbitrage-core/internal/types"
)

// RiskGate is the one hook the execution engine needs into the risk
// supervisor: a last-instant permission check before committing capital.
// Defined here rather than imported from internal/risk to keep the two
// packages decoupled; internal/risk's Supervisor satisfies it directly.
type RiskGate interface {
	Allow(ctx context.Context, trade types.ProposedTrade) bool
}

// Engine executes both legs of an opportunity. The overall shape —
// validate, place, poll to a bounded deadline, reconcile — follows the
// teacher's OrderManager.executeOrder/updateOrderStatus poll loop;
// concurrent two-leg placement and deadline-bounded polling are this
// domain's additions since the teacher never coordinates two live legs
// against each other.
type Engine struct {
	logger  *observability.Logger
	bus     *events.Bus
	clients map[types.VenueID]exchange.ExchangeClient

	fillDeadline time.Duration
	pollInterval time.Duration

	mu   sync.Mutex
	seen map[uuid.UUID]bool
}

func NewEngine(logger *observability.Logger, bus *events.Bus, clients map[types.VenueID]exchange.ExchangeClient, cfg config.ExecutionConfig) *Engine {
	e := &Engine{
		logger:       logger,
		bus:          bus,
		clients:      clients,
		fillDeadline: cfg.FillDeadline,
		pollInterval: cfg.PollInterval,
		seen:         make(map[uuid.UUID]bool),
	}
	if e.fillDeadline == 0 {
		e.fillDeadline = 30 * time.Second
	}
	if e.pollInterval < 500*time.Millisecond {
		e.pollInterval = 500 * time.Millisecond // caps polling at 2Hz
	}
	return e
}

// Execute revalidates the opportunity hasn't expired, asks the risk gate
// for permission, places both legs concurrently, polls each to a terminal
// state or the fill deadline, reconciles any quantity mismatch between
// the legs, and publishes the outcome.
func (e *Engine) Execute(ctx context.Context, opp types.Opportunity, trade types.ProposedTrade, gate RiskGate) (types.ExecutionResult, error) {
	if time.Now().After(opp.ExpiresTS) {
		return types.ExecutionResult{}, fmt.Errorf("opportunity %s expired before execution", opp.ID)
	}
	if gate != nil && !gate.Allow(ctx, trade) {
		return types.ExecutionResult{}, fmt.Errorf("risk gate rejected trade for opportunity %s", opp.ID)
	}

	buyClient, ok := e.clients[opp.BuyVenue]
	if !ok {
		return types.ExecutionResult{}, fmt.Errorf("no connector for venue %s", opp.BuyVenue)
	}
	sellClient, ok := e.clients[opp.SellVenue]
	if !ok {
		return types.ExecutionResult{}, fmt.Errorf("no connector for venue %s", opp.SellVenue)
	}

	buyClientID := legClientID(opp.ID, types.SideBuy)
	sellClientID := legClientID(opp.ID, types.SideSell)
	if e.alreadyAttempted(buyClientID) || e.alreadyAttempted(sellClientID) {
		return types.ExecutionResult{}, fmt.Errorf("opportunity %s already has an execution attempt in flight", opp.ID)
	}

	buyOrder := e.buildLeg(buyClientID, buyClient, opp.BuyVenue, opp.Instrument, types.SideBuy, trade.Quantity, opp.BuyPrice)
	sellOrder := e.buildLeg(sellClientID, sellClient, opp.SellVenue, opp.Instrument, types.SideSell, trade.Quantity, opp.SellPrice)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		placed, err := buyClient.PlaceOrder(gctx, buyOrder)
		if err != nil {
			return fmt.Errorf("place buy leg: %w", err)
		}
		buyOrder = placed
		return nil
	})
	g.Go(func() error {
		placed, err := sellClient.PlaceOrder(gctx, sellOrder)
		if err != nil {
			return fmt.Errorf("place sell leg: %w", err)
		}
		sellOrder = placed
		return nil
	})
	if err := g.Wait(); err != nil {
		return types.ExecutionResult{}, err
	}

	buyFinal, buyTimedOut := e.monitor(ctx, buyClient, buyOrder)
	sellFinal, sellTimedOut := e.monitor(ctx, sellClient, sellOrder)
	timedOut := buyTimedOut || sellTimedOut

	// Per the deadline policy, any leg still open once the poll deadline
	// passes is canceled before reconciliation runs, not left resting.
	buyFinal = e.cancelIfOpen(ctx, buyClient, buyFinal)
	sellFinal = e.cancelIfOpen(ctx, sellClient, sellFinal)

	buyFinal, sellFinal = e.reconcile(ctx, buyClient, sellClient, opp, buyFinal, sellFinal)

	result := e.summarize(opp, buyFinal, sellFinal, timedOut)
	if e.bus != nil {
		e.bus.Publish(events.NewExecutionEnvelope(uint64AsSeq(result.EndTS), result))
	}
	return result, nil
}

// legClientID derives a stable per-(opportunity, side) client order ID, so
// a retried Execute call for the same opportunity reuses the same ID
// instead of generating a fresh one the venue has never seen.
func legClientID(opportunityID uuid.UUID, side types.Side) uuid.UUID {
	return uuid.NewSHA1(opportunityID, []byte(side))
}

func (e *Engine) alreadyAttempted(clientID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seen[clientID] {
		return true
	}
	e.seen[clientID] = true
	return false
}

func (e *Engine) buildLeg(clientID uuid.UUID, client exchange.ExchangeClient, venue types.VenueID, instrument types.InstrumentID, side types.Side, qty, price decimal.Decimal) types.Order {
	policy := client.GetOrderPolicy()
	orderType := types.OrderTypeLimit
	tif := policy.DefaultTIF
	if policy.SupportsIOC {
		tif = types.TimeInForceIOC
	} else {
		orderType = types.OrderTypeMarket
	}
	return types.Order{
		ClientID:    clientID,
		Venue:       venue,
		Instrument:  instrument,
		Side:        side,
		Type:        orderType,
		TimeInForce: tif,
		Qty:         qty,
		Price:       price,
		State:       types.OrderStateNew,
		CreatedTS:   time.Now(),
		UpdatedTS:   time.Now(),
	}
}

// monitor polls a placed order until it reaches a terminal state or the
// fill deadline elapses, whichever comes first, at a rate no faster than
// the engine's configured poll interval (clamped to 2Hz in NewEngine). The
// second return value reports whether the deadline was the reason it
// returned, so the caller knows the leg may still be resting at the venue
// and needs an explicit cancel.
func (e *Engine) monitor(ctx context.Context, client exchange.ExchangeClient, order types.Order) (types.Order, bool) {
	deadline := time.Now().Add(e.fillDeadline)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		if isTerminal(order.State) {
			return order, false
		}
		if time.Now().After(deadline) {
			return order, true
		}
		select {
		case <-ctx.Done():
			return order, false
		case <-ticker.C:
			updated, err := client.GetOrder(ctx, order.ClientID.String())
			if err != nil {
				if e.logger != nil {
					e.logger.Warn(ctx, "poll order status failed", map[string]interface{}{
						"venue": string(order.Venue), "client_id": order.ClientID.String(), "error": err.Error(),
					})
				}
				continue
			}
			order = updated
		}
	}
}

func isTerminal(state types.OrderState) bool {
	switch state {
	case types.OrderStateFilled, types.OrderStateCanceled, types.OrderStateRejected:
		return true
	default:
		return false
	}
}

// cancelIfOpen issues an explicit cancel for any leg monitor didn't already
// resolve to a terminal state, then re-polls once for the venue's
// authoritative post-cancel state (covering a race against a last-second
// fill). A cancel failure is logged and left to reconcile/summarize to
// report against whatever FilledQty the leg actually has.
func (e *Engine) cancelIfOpen(ctx context.Context, client exchange.ExchangeClient, order types.Order) types.Order {
	if isTerminal(order.State) {
		return order
	}
	if err := client.CancelOrder(ctx, order.ClientID.String()); err != nil {
		if e.logger != nil {
			e.logger.Warn(ctx, "cancel open leg failed", map[string]interface{}{
				"venue": string(order.Venue), "client_id": order.ClientID.String(), "error": err.Error(),
			})
		}
	}
	updated, err := client.GetOrder(ctx, order.ClientID.String())
	if err != nil {
		order.State = types.OrderStateCanceled
		order.UpdatedTS = time.Now()
		return order
	}
	return updated
}

// reconcile flattens whichever leg filled more than its counterpart: the
// excess is naked exposure once the deadline has passed, so it gets closed
// out at market on the leg that lags, rather than carried.
func (e *Engine) reconcile(ctx context.Context, buyClient, sellClient exchange.ExchangeClient, opp types.Opportunity, buy, sell types.Order) (types.Order, types.Order) {
	if buy.FilledQty.Equal(sell.FilledQty) {
		return buy, sell
	}

	if buy.FilledQty.GreaterThan(sell.FilledQty) {
		shortfall := buy.FilledQty.Sub(sell.FilledQty)
		flatten := e.buildLeg(uuid.NewSHA1(opp.ID, []byte("flatten-sell")), sellClient, opp.SellVenue, opp.Instrument, types.SideSell, shortfall, decimal.Zero)
		flatten.Type = types.OrderTypeMarket
		if placed, err := sellClient.PlaceOrder(ctx, flatten); err == nil {
			filled, _ := e.monitor(ctx, sellClient, placed)
			filled = e.cancelIfOpen(ctx, sellClient, filled)
			sell = mergeFilled(sell, filled)
		} else if e.logger != nil {
			e.logger.Error(ctx, "flatten sell leg failed", err, map[string]interface{}{"opportunity": opp.ID.String()})
		}
		return buy, sell
	}

	shortfall := sell.FilledQty.Sub(buy.FilledQty)
	flatten := e.buildLeg(uuid.NewSHA1(opp.ID, []byte("flatten-buy")), buyClient, opp.BuyVenue, opp.Instrument, types.SideBuy, shortfall, decimal.Zero)
	flatten.Type = types.OrderTypeMarket
	if placed, err := buyClient.PlaceOrder(ctx, flatten); err == nil {
		filled, _ := e.monitor(ctx, buyClient, placed)
		filled = e.cancelIfOpen(ctx, buyClient, filled)
		buy = mergeFilled(buy, filled)
	} else if e.logger != nil {
		e.logger.Error(ctx, "flatten buy leg failed", err, map[string]interface{}{"opportunity": opp.ID.String()})
	}
	return buy, sell
}

func mergeFilled(original, flatten types.Order) types.Order {
	original.FilledQty = original.FilledQty.Add(flatten.FilledQty)
	original.UpdatedTS = flatten.UpdatedTS
	return original
}

func (e *Engine) summarize(opp types.Opportunity, buy, sell types.Order, timedOut bool) types.ExecutionResult {
	executedQty := decimal.Min(buy.FilledQty, sell.FilledQty)
	realizedProfit := decimal.Zero
	slippagePct := decimal.Zero
	if !executedQty.IsZero() {
		realizedProfit = sell.AvgFillPrice.Sub(buy.AvgFillPrice).Mul(executedQty)
		expectedSpread := opp.SellPrice.Sub(opp.BuyPrice)
		actualSpread := sell.AvgFillPrice.Sub(buy.AvgFillPrice)
		if !expectedSpread.IsZero() {
			slippagePct = expectedSpread.Sub(actualSpread).Div(expectedSpread).Mul(decimal.NewFromInt(100))
		}
	}

	outcome := types.OutcomeFilled
	switch {
	case executedQty.IsZero():
		outcome = types.OutcomeNoFills
	case timedOut:
		outcome = types.OutcomeTimeout
	case executedQty.LessThan(buy.Qty) || executedQty.LessThan(sell.Qty):
		outcome = types.OutcomePartialFill
	}

	return types.ExecutionResult{
		OpportunityID:  opp.ID,
		BuyOrder:       buy,
		SellOrder:      sell,
		ExecutedQty:    executedQty,
		RealizedProfit: realizedProfit,
		SlippagePct:    slippagePct,
		Outcome:        outcome,
		EndTS:          time.Now(),
	}
}

func uint64AsSeq(t time.Time) types.SequenceNo {
	return types.SequenceNo(t.UnixNano())
}
