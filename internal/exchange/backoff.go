package exchange

import (
	"math/rand"
	"time"
)

// ReconnectBackoff computes exponential-backoff-with-full-jitter delays
// for WS reconnection, replacing the flat-sleep reconnect loop the
// teacher's binance.WebSocketManager used. base=1s, factor=2, cap=60s,
// maxAttempts=10 are the spec defaults.
type ReconnectBackoff struct {
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
}

// DefaultReconnectBackoff returns the spec's default schedule.
func DefaultReconnectBackoff() ReconnectBackoff {
	return ReconnectBackoff{Base: time.Second, Factor: 2, Cap: 60 * time.Second, MaxAttempts: 10}
}

// Next returns the delay before the given attempt (1-indexed) and whether
// the caller should give up because attempts are exhausted.
func (b ReconnectBackoff) Next(attempt int) (delay time.Duration, exhausted bool) {
	if attempt > b.MaxAttempts {
		return 0, true
	}
	exp := float64(b.Base) * pow(b.Factor, attempt-1)
	if exp > float64(b.Cap) {
		exp = float64(b.Cap)
	}
	jittered := rand.Float64() * exp
	return time.Duration(jittered), false
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
