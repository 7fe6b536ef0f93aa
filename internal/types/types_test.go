package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDefaultOrderPolicyIsConservative(t *testing.T) {
	t.Parallel()
	policy := DefaultOrderPolicy()

	assert.False(t, policy.SupportsPostOnly)
	assert.False(t, policy.SupportsIOC)
	assert.Equal(t, TimeInForceGTC, policy.DefaultTIF)
}

func TestOpportunityRankFormulaIsPositiveForPositiveInputs(t *testing.T) {
	t.Parallel()
	opp := Opportunity{
		ExpectedProfitPct: decimal.NewFromFloat(0.42),
		Confidence:        decimal.NewFromFloat(0.8),
	}
	rank := opp.ExpectedProfitPct.Mul(decimal.NewFromFloat(0.6)).
		Add(opp.Confidence.Mul(decimal.NewFromInt(100)).Mul(decimal.NewFromFloat(0.4)))

	assert.True(t, rank.GreaterThan(decimal.Zero))
}
