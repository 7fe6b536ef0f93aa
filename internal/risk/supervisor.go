// Package risk implements the orchestrator's lifecycle state machine and
// its continuous guards: daily loss limit, consecutive-loss circuit
// breaker, per-symbol exposure cap and per-position stop-loss. It is the
// one gate every execution attempt must pass through.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowarb/arbitrage-core/internal/config"
	"github.com/flowarb/arbitrage-core/internal/events"
	"github.com/flowarb/arbitrage-core/internal/observability"
	"github.com/flowarb/arbitrage-core/internal/types"
)

// executionReport is how a completed trade reaches the supervisor's single
// writer goroutine, mirroring the teacher pack's report-channel pattern
// (0xtitan6-polymarket-mm's risk.Manager.Report) rather than having every
// caller mutate shared state directly.
type executionReport struct {
	instrument types.InstrumentID
	pnl        decimal.Decimal
}

type exposureReport struct {
	instrument types.InstrumentID
	qty        decimal.Decimal
}

// Supervisor owns the Idle/Live/WindingDown/Halted lifecycle and the
// continuous risk guards. Halts, engagements, execution and exposure
// reports are applied on the goroutine started by Run; Start, Stop and
// Shutdown change the mode directly on the caller's goroutine. Every
// mutation holds the write lock; Allow and Snapshot are safe to call
// concurrently and only ever take a read lock.
type Supervisor struct {
	logger *observability.Logger
	bus    *events.Bus
	cfg    config.RiskConfig

	reportCh   chan executionReport
	exposureCh chan exposureReport
	haltCh     chan string
	engageCh   chan struct{}

	mu        sync.RWMutex
	state     types.OrchestratorState
	exposure  map[types.InstrumentID]decimal.Decimal
	haltUntil time.Time
}

func NewSupervisor(logger *observability.Logger, bus *events.Bus, cfg config.RiskConfig) *Supervisor {
	return &Supervisor{
		logger:     logger,
		bus:        bus,
		cfg:        cfg,
		reportCh:   make(chan executionReport, 256),
		exposureCh: make(chan exposureReport, 256),
		haltCh:     make(chan string, 4),
		engageCh:   make(chan struct{}, 4),
		exposure:   make(map[types.InstrumentID]decimal.Decimal),
		state: types.OrchestratorState{
			Mode:         types.ModeIdle,
			RiskThrottle: decimal.NewFromInt(1),
			SinceTS:      time.Now(),
		},
	}
}

// Run drives the state machine until ctx is canceled. It must run on
// exactly one goroutine; that goroutine applies every channel-delivered
// report, halt and engagement.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case r := <-s.reportCh:
			s.processExecution(r)
		case r := <-s.exposureCh:
			s.processExposure(r)
		case reason := <-s.haltCh:
			s.transitionHalted(reason)
		case <-s.engageCh:
			s.engage()
		case <-ticker.C:
			s.markCooldownElapsed()
		}
	}
}

// Start moves the supervisor from Idle into Live. It is a no-op from any
// other mode.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Mode != types.ModeIdle {
		return
	}
	s.state.Mode = types.ModeLive
	s.state.SinceTS = time.Now()
	s.publishLocked()
}

// Stop begins a graceful wind-down: Live stops accepting new opportunities
// but callers are expected to let in-flight executions finish before
// calling Shutdown to reach Idle.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Mode != types.ModeLive {
		return
	}
	s.state.Mode = types.ModeWindingDown
	s.state.SinceTS = time.Now()
	s.publishLocked()
}

// Shutdown completes a wind-down and returns the supervisor to Idle.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Mode != types.ModeWindingDown {
		return
	}
	s.state.Mode = types.ModeIdle
	s.state.SinceTS = time.Now()
	s.publishLocked()
}

// Halt forces an immediate transition into Halted, the kill switch. It is
// safe to call from any goroutine; the actual state mutation still runs
// on Run's goroutine but the channel send itself returns immediately, so
// the observable halt latency is bounded by the size of Run's select loop
// rather than by whatever caller happened to trip the guard.
func (s *Supervisor) Halt(reason string) {
	select {
	case s.haltCh <- reason:
	default:
		// Channel full of pending halts; the condition is already being
		// acted on, so dropping a duplicate reason is harmless.
	}
}

// Engage is the operator acknowledgment command: the only way Halted ever
// leaves back to Live. There is no automatic recovery — the cooldown
// configured via cfg.CooldownAfterHalt only ever surfaces as
// OrchestratorState.CooldownElapsed for an operator console to read; it
// never transitions the state machine by itself.
func (s *Supervisor) Engage() {
	select {
	case s.engageCh <- struct{}{}:
	default:
	}
}

// ReportExecution feeds a completed trade's realized PnL into the daily
// loss and consecutive-loss guards. Non-blocking: a full channel drops the
// report rather than stalling the caller, consistent with the teacher
// pack's Report() methods.
func (s *Supervisor) ReportExecution(instrument types.InstrumentID, realizedPnL decimal.Decimal) {
	select {
	case s.reportCh <- executionReport{instrument: instrument, pnl: realizedPnL}:
	default:
		if s.logger != nil {
			s.logger.Warn(context.Background(), "risk report channel full, dropping execution report", map[string]interface{}{
				"instrument": string(instrument),
			})
		}
	}
}

// ReportExposure updates the supervisor's view of how much of an
// instrument is currently committed, for the exposure-cap guard.
func (s *Supervisor) ReportExposure(instrument types.InstrumentID, qty decimal.Decimal) {
	select {
	case s.exposureCh <- exposureReport{instrument: instrument, qty: qty}:
	default:
	}
}

// CheckStopLoss evaluates a single position against the configured
// per-position stop-loss percentage. It is a pure read with no side
// effect on the state machine: the caller (the orchestrator loop holding
// the position) decides what to do about a triggered stop, typically by
// handing the position to the execution engine to flatten.
func (s *Supervisor) CheckStopLoss(position types.Position) bool {
	if position.AvgEntry.IsZero() || s.cfg.PerPositionStopLossPct <= 0 {
		return false
	}
	notional := position.AvgEntry.Mul(position.Qty.Abs())
	if notional.IsZero() {
		return false
	}
	lossPct := position.UnrealizedPnL.Div(notional).Mul(decimal.NewFromInt(100))
	return lossPct.LessThan(decimal.NewFromFloat(-s.cfg.PerPositionStopLossPct))
}

// Allow implements execution.RiskGate: only Live mode may commit capital.
func (s *Supervisor) Allow(ctx context.Context, trade types.ProposedTrade) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Mode == types.ModeLive
}

// Snapshot returns the current lifecycle state.
func (s *Supervisor) Snapshot() types.OrchestratorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) processExecution(r executionReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.DailyPnL = s.state.DailyPnL.Add(r.pnl)
	if r.pnl.LessThan(decimal.Zero) {
		s.state.ConsecutiveLosses++
	} else {
		s.state.ConsecutiveLosses = 0
	}

	s.state.RiskThrottle = dailyLossThrottle(s.state.DailyPnL, s.cfg.MaxDailyLossUSD)
	s.publishLocked()

	if s.cfg.MaxDailyLossUSD > 0 && s.state.DailyPnL.LessThanOrEqual(decimal.NewFromFloat(-s.cfg.MaxDailyLossUSD)) {
		s.enterHaltLocked("daily loss limit breached")
		return
	}
	if s.cfg.ConsecutiveLossLimit > 0 && s.state.ConsecutiveLosses >= s.cfg.ConsecutiveLossLimit {
		s.enterHaltLocked("consecutive loss circuit breaker tripped")
	}
}

func (s *Supervisor) processExposure(r exposureReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposure[r.instrument] = r.qty
	if s.cfg.MaxExposurePerSymbol > 0 && r.qty.GreaterThan(decimal.NewFromFloat(s.cfg.MaxExposurePerSymbol)) {
		s.enterHaltLocked(fmt.Sprintf("exposure cap breached for %s", r.instrument))
	}
}

func (s *Supervisor) transitionHalted(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enterHaltLocked(reason)
}

func (s *Supervisor) enterHaltLocked(reason string) {
	if s.state.Mode == types.ModeHalted {
		return
	}
	s.state.Mode = types.ModeHalted
	s.state.HaltReason = reason
	s.state.RiskThrottle = decimal.Zero
	s.state.CooldownElapsed = false
	s.state.SinceTS = time.Now()
	s.haltUntil = time.Now().Add(s.cfg.CooldownAfterHalt)
	if s.logger != nil {
		s.logger.Error(context.Background(), "risk supervisor halted", errors.New(reason), map[string]interface{}{
			"cooldown_until": s.haltUntil,
		})
	}
	s.publishLocked()
}

// engage is the sole Halted->Live transition, run only in response to an
// explicit Engage call — never automatically, regardless of how long the
// cooldown has elapsed.
func (s *Supervisor) engage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Mode != types.ModeHalted {
		return
	}
	s.state.Mode = types.ModeLive
	s.state.HaltReason = ""
	s.state.ConsecutiveLosses = 0
	s.state.RiskThrottle = decimal.NewFromInt(1)
	s.state.CooldownElapsed = false
	s.state.SinceTS = time.Now()
	s.publishLocked()
}

// markCooldownElapsed flips the informational CooldownElapsed flag once
// cfg.CooldownAfterHalt has passed since the halt. It never changes Mode;
// only Engage can do that.
func (s *Supervisor) markCooldownElapsed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Mode != types.ModeHalted || s.state.CooldownElapsed {
		return
	}
	if time.Now().Before(s.haltUntil) {
		return
	}
	s.state.CooldownElapsed = true
	s.publishLocked()
}

// publishLocked emits the current state on the event bus. Caller must
// already hold s.mu.
func (s *Supervisor) publishLocked() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewRiskEnvelope(types.SequenceNo(s.state.SinceTS.UnixNano()), s.state))
}

// dailyLossThrottle degrades linearly as realized daily PnL approaches the
// configured loss limit, reaching zero exactly at the limit (where the
// daily-loss guard halts trading outright). A non-negative PnL, or no
// configured limit, leaves the throttle fully open.
func dailyLossThrottle(dailyPnL decimal.Decimal, maxDailyLossUSD float64) decimal.Decimal {
	if maxDailyLossUSD <= 0 || dailyPnL.GreaterThanOrEqual(decimal.Zero) {
		return decimal.NewFromInt(1)
	}
	limit := decimal.NewFromFloat(maxDailyLossUSD)
	throttle := decimal.NewFromInt(1).Sub(dailyPnL.Abs().Div(limit))
	if throttle.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return throttle
}
