package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheKeysAreScopedByLimit(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "arb:opportunities:recent:10", recentOpportunitiesKey(10))
	assert.Equal(t, "arb:opportunities:recent:50", recentOpportunitiesKey(50))
	assert.NotEqual(t, recentOpportunitiesKey(10), recentOpportunitiesKey(50))

	assert.Equal(t, "arb:executions:recent:10", recentExecutionsKey(10))
	assert.NotEqual(t, recentOpportunitiesKey(10), recentExecutionsKey(10))
}
