// Package scanner scores each (venue, instrument) pair on recent
// volatility, volume surge and spread, producing the composite signal the
// opportunity detector uses to prioritize where to look.
package scanner

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowarb/arbitrage-core/internal/config"
	"github.com/flowarb/arbitrage-core/internal/observability"
	"github.com/flowarb/arbitrage-core/internal/types"
)

type sample struct {
	ts     time.Time
	mid    decimal.Decimal
	volume decimal.Decimal
}

// Scanner maintains a rolling sample history per (venue, instrument) and
// derives a VolatilityScore on every tick. Statistical helpers (mean,
// standard deviation) follow the teacher's VaRCalculator convention of
// accumulating in decimal.Decimal and dropping to float64 only for
// math.Sqrt/math.Log, which have no decimal equivalent.
type Scanner struct {
	logger *observability.Logger

	shortWindow  time.Duration
	mediumWindow time.Duration
	longWindow   time.Duration

	mu      sync.Mutex
	samples map[string][]sample
}

func NewScanner(logger *observability.Logger, cfg config.ScannerConfig) *Scanner {
	s := &Scanner{
		logger:       logger,
		shortWindow:  cfg.ShortWindow,
		mediumWindow: cfg.MediumWindow,
		longWindow:   cfg.LongWindow,
		samples:      make(map[string][]sample),
	}
	if s.shortWindow == 0 {
		s.shortWindow = time.Minute
	}
	if s.mediumWindow == 0 {
		s.mediumWindow = 5 * time.Minute
	}
	if s.longWindow == 0 {
		s.longWindow = 15 * time.Minute
	}
	return s
}

func key(venue types.VenueID, instrument types.InstrumentID) string {
	return string(venue) + "|" + string(instrument)
}

// Observe records a tick and returns the refreshed VolatilityScore for its
// (venue, instrument) pair. ok is false until at least two samples fall
// within the short window, since a single point has no return to measure.
func (s *Scanner) Observe(tick types.MarketTick) (types.VolatilityScore, bool) {
	if tick.Bid.IsZero() && tick.Ask.IsZero() {
		return types.VolatilityScore{}, false
	}
	mid := tick.Bid.Add(tick.Ask).Div(decimal.NewFromInt(2))
	now := tick.WallTS
	if now.IsZero() {
		now = time.Now()
	}
	k := key(tick.Venue, tick.Instrument)

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.samples[k], sample{ts: now, mid: mid, volume: tick.Volume24h})
	history = trimBefore(history, now.Add(-s.longWindow))
	s.samples[k] = history

	short := windowOf(history, now.Add(-s.shortWindow))
	if len(short) < 2 {
		return types.VolatilityScore{}, false
	}
	long := windowOf(history, now.Add(-s.longWindow))

	shortVol := stddev(logReturns(short))
	volumeSurge := volumeSurgeRatio(short, long)
	spreadPct := decimal.Zero
	if !mid.IsZero() {
		spreadPct = tick.Ask.Sub(tick.Bid).Div(mid).Mul(decimal.NewFromInt(100))
	}
	depth := tick.BidQty.Add(tick.AskQty)

	score := types.VolatilityScore{
		Instrument:       tick.Instrument,
		Venue:            tick.Venue,
		ShortVol:         shortVol,
		VolumeSurgeRatio: volumeSurge,
		SpreadPct:        spreadPct,
		MonoTS:           time.Duration(now.UnixNano()),
	}
	score.Score = aggregateScore(shortVol, volumeSurge, spreadPct, depth)
	return score, true
}

func trimBefore(history []sample, cutoff time.Time) []sample {
	i := 0
	for i < len(history) && history[i].ts.Before(cutoff) {
		i++
	}
	return history[i:]
}

func windowOf(history []sample, since time.Time) []sample {
	i := 0
	for i < len(history) && history[i].ts.Before(since) {
		i++
	}
	return history[i:]
}

// logReturns computes ln(p_t / p_t-1) for consecutive samples. Decimal has
// no logarithm, so this drops to float64 for the log itself, same as the
// teacher's VaRCalculator does for sqrt and the normal PDF.
func logReturns(samples []sample) []decimal.Decimal {
	if len(samples) < 2 {
		return nil
	}
	returns := make([]decimal.Decimal, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		prev := samples[i-1].mid
		cur := samples[i].mid
		if prev.IsZero() || cur.IsZero() {
			continue
		}
		ratio := cur.Div(prev).InexactFloat64()
		if ratio <= 0 {
			continue
		}
		returns = append(returns, decimal.NewFromFloat(math.Log(ratio)))
	}
	return returns
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

func stddev(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}
	m := mean(values)
	sumSq := decimal.Zero
	for _, v := range values {
		diff := v.Sub(m)
		sumSq = sumSq.Add(diff.Mul(diff))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(values) - 1)))
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}

// volumeSurgeRatio compares average volume in the short window against the
// long window's average as a crude baseline; a ratio above 1 means recent
// activity is running hot relative to the longer horizon.
func volumeSurgeRatio(short, long []sample) decimal.Decimal {
	longAvg := avgVolume(long)
	if longAvg.IsZero() {
		return decimal.NewFromInt(1)
	}
	return avgVolume(short).Div(longAvg)
}

func avgVolume(samples []sample) decimal.Decimal {
	if len(samples) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, s := range samples {
		sum = sum.Add(s.volume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(samples))))
}

// aggregateScore blends volatility (40%), volume surge (30%) and a
// spread-times-illiquidity measure (30%) into a single 0-100 score.
// Each input is mapped onto a 0-100 sub-scale before weighting so that no
// single raw unit (a stddev of log returns vs. a ratio vs. a percent)
// dominates the sum by scale alone.
func aggregateScore(shortVol, volumeSurge, spreadPct, depth decimal.Decimal) decimal.Decimal {
	volComponent := clamp(shortVol.Mul(decimal.NewFromInt(10000)), 0, 100)
	volumeComponent := clamp(volumeSurge.Div(decimal.NewFromFloat(5)).Mul(decimal.NewFromInt(100)), 0, 100)

	illiquidity := decimal.NewFromInt(1)
	if depth.GreaterThan(decimal.Zero) {
		illiquidity = decimal.NewFromInt(1).Div(decimal.NewFromInt(1).Add(depth))
	}
	spreadComponent := clamp(spreadPct.Mul(illiquidity).Mul(decimal.NewFromInt(50)), 0, 100)

	weighted := volComponent.Mul(decimal.NewFromFloat(0.4)).
		Add(volumeComponent.Mul(decimal.NewFromFloat(0.3))).
		Add(spreadComponent.Mul(decimal.NewFromFloat(0.3)))
	return clamp(weighted, 0, 100)
}

func clamp(d decimal.Decimal, min, max int64) decimal.Decimal {
	lo, hi := decimal.NewFromInt(min), decimal.NewFromInt(max)
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}
