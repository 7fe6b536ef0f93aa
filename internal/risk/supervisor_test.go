package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowarb/arbitrage-core/internal/config"
	"github.com/flowarb/arbitrage-core/internal/types"
)

func testSupervisor(cfg config.RiskConfig) *Supervisor {
	return NewSupervisor(nil, nil, cfg)
}

func TestStartTransitionsIdleToLive(t *testing.T) {
	t.Parallel()
	s := testSupervisor(config.RiskConfig{})
	assert.Equal(t, types.ModeIdle, s.Snapshot().Mode)
	s.Start()
	assert.Equal(t, types.ModeLive, s.Snapshot().Mode)
}

func TestAllowOnlyWhenLive(t *testing.T) {
	t.Parallel()
	s := testSupervisor(config.RiskConfig{})
	assert.False(t, s.Allow(context.Background(), types.ProposedTrade{}))
	s.Start()
	assert.True(t, s.Allow(context.Background(), types.ProposedTrade{}))
}

func TestDailyLossLimitHalts(t *testing.T) {
	t.Parallel()
	s := testSupervisor(config.RiskConfig{MaxDailyLossUSD: 100, CooldownAfterHalt: time.Hour})
	s.Start()

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	s.ReportExecution("BTC-USDT", decimal.NewFromInt(-150))

	require.Eventually(t, func() bool {
		return s.Snapshot().Mode == types.ModeHalted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "daily loss limit breached", s.Snapshot().HaltReason)
}

func TestConsecutiveLossCircuitBreakerHalts(t *testing.T) {
	t.Parallel()
	s := testSupervisor(config.RiskConfig{ConsecutiveLossLimit: 3})
	s.Start()

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	for i := 0; i < 3; i++ {
		s.ReportExecution("BTC-USDT", decimal.NewFromInt(-1))
	}

	require.Eventually(t, func() bool {
		return s.Snapshot().Mode == types.ModeHalted
	}, time.Second, 5*time.Millisecond)
}

func TestExposureCapHalts(t *testing.T) {
	t.Parallel()
	s := testSupervisor(config.RiskConfig{MaxExposurePerSymbol: 10})
	s.Start()

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	s.ReportExposure("BTC-USDT", decimal.NewFromInt(20))

	require.Eventually(t, func() bool {
		return s.Snapshot().Mode == types.ModeHalted
	}, time.Second, 5*time.Millisecond)
}

func TestHaltedNeverAutoResumesAfterCooldown(t *testing.T) {
	t.Parallel()
	s := testSupervisor(config.RiskConfig{MaxDailyLossUSD: 10, CooldownAfterHalt: 20 * time.Millisecond})
	s.Start()

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	s.ReportExecution("BTC-USDT", decimal.NewFromInt(-20))
	require.Eventually(t, func() bool {
		return s.Snapshot().Mode == types.ModeHalted
	}, time.Second, 5*time.Millisecond)

	// Cooldown elapses and is surfaced for an operator to see, but the
	// mode itself must never move on its own.
	require.Eventually(t, func() bool {
		return s.Snapshot().CooldownElapsed
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, types.ModeHalted, s.Snapshot().Mode)
}

func TestEngagePostAckReturnsToLive(t *testing.T) {
	t.Parallel()
	s := testSupervisor(config.RiskConfig{MaxDailyLossUSD: 10, CooldownAfterHalt: time.Hour})
	s.Start()

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	s.ReportExecution("BTC-USDT", decimal.NewFromInt(-20))
	require.Eventually(t, func() bool {
		return s.Snapshot().Mode == types.ModeHalted
	}, time.Second, 5*time.Millisecond)

	// Engage works immediately, independent of the cooldown, since it
	// represents an explicit operator acknowledgment rather than an
	// automatic timer.
	s.Engage()
	require.Eventually(t, func() bool {
		return s.Snapshot().Mode == types.ModeLive
	}, time.Second, 5*time.Millisecond)
}

func TestEngageIsNoOpOutsideHalted(t *testing.T) {
	t.Parallel()
	s := testSupervisor(config.RiskConfig{})
	s.Start()

	s.Engage()
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer cancel()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, types.ModeLive, s.Snapshot().Mode)
}

func TestCheckStopLossTriggersPastThreshold(t *testing.T) {
	t.Parallel()
	s := testSupervisor(config.RiskConfig{PerPositionStopLossPct: 5})
	pos := types.Position{
		AvgEntry:      decimal.NewFromInt(100),
		Qty:           decimal.NewFromInt(10),
		UnrealizedPnL: decimal.NewFromInt(-60), // -6% of 1000 notional
	}
	assert.True(t, s.CheckStopLoss(pos))

	pos.UnrealizedPnL = decimal.NewFromInt(-20) // -2%, within tolerance
	assert.False(t, s.CheckStopLoss(pos))
}

func TestStopWindsDownThenShutdownReachesIdle(t *testing.T) {
	t.Parallel()
	s := testSupervisor(config.RiskConfig{})
	s.Start()
	s.Stop()
	assert.Equal(t, types.ModeWindingDown, s.Snapshot().Mode)
	s.Shutdown()
	assert.Equal(t, types.ModeIdle, s.Snapshot().Mode)
}
