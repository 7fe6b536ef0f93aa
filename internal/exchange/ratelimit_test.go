package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketTryAcquireReturnsRateLimitedWhenEmpty(t *testing.T) {
	t.Parallel()
	b := NewTokenBucket(1, 1)
	require.NoError(t, b.TryAcquire())

	err := b.TryAcquire()
	require.Error(t, err)
	var rl RateLimited
	require.ErrorAs(t, err, &rl)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))
}

func TestTokenBucketWaitUnblocksAfterRefill(t *testing.T) {
	t.Parallel()
	b := NewTokenBucket(1, 20) // 50ms per token
	require.NoError(t, b.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, b.Wait(ctx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWeightedWindowLimiterEnforcesBudget(t *testing.T) {
	t.Parallel()
	l := NewWeightedWindowLimiter(time.Minute, 10)

	require.NoError(t, l.TryAcquire(6))
	require.NoError(t, l.TryAcquire(4))

	err := l.TryAcquire(1)
	require.Error(t, err)
	var rl RateLimited
	require.ErrorAs(t, err, &rl)
}
