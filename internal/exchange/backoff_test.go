package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectBackoffCapsAndExhausts(t *testing.T) {
	t.Parallel()
	b := DefaultReconnectBackoff()

	delay, exhausted := b.Next(1)
	assert.False(t, exhausted)
	assert.LessOrEqual(t, delay, b.Base)

	delay, exhausted = b.Next(10)
	assert.False(t, exhausted)
	assert.LessOrEqual(t, delay, b.Cap)

	_, exhausted = b.Next(11)
	assert.True(t, exhausted)
}

func TestReconnectBackoffNeverNegative(t *testing.T) {
	t.Parallel()
	b := DefaultReconnectBackoff()
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		delay, _ := b.Next(attempt)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
	}
}
