package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	relaymodel "github.com/proxed/gateway/relay/model"
	"github.com/proxed/gateway/relay/provider"
)

func TestLookupRateExactMatch(t *testing.T) {
	r := lookupRate(provider.TypeOpenAI, "gpt-4o-mini")
	assert.Equal(t, 0.15, r.Input)
	assert.Equal(t, 0.6, r.Output)
}

func TestLookupRateLongestPrefix(t *testing.T) {
	// The dated variant must price like gpt-4o-mini, not gpt-4o.
	r := lookupRate(provider.TypeOpenAI, "gpt-4o-mini-2024-07-18")
	assert.Equal(t, 0.15, r.Input)

	r = lookupRate(provider.TypeOpenAI, "gpt-4o-2024-08-06")
	assert.Equal(t, 2.5, r.Input)

	r = lookupRate(provider.TypeAnthropic, "claude-sonnet-4-20250514")
	assert.Equal(t, 3.0, r.Input)
	assert.Equal(t, 15.0, r.Output)
}

func TestLookupRateProviderDefault(t *testing.T) {
	r := lookupRate(provider.TypeGoogle, "some-future-model")
	assert.Equal(t, defaultRates[provider.TypeGoogle], r)

	r = lookupRate(provider.TypeAnthropic, "")
	assert.Equal(t, defaultRates[provider.TypeAnthropic], r)
}

func TestEstimate(t *testing.T) {
	cost := Estimate(provider.TypeOpenAI, "gpt-4o", relaymodel.Usage{
		PromptTokens:     1_000_000,
		CompletionTokens: 500_000,
		TotalTokens:      1_500_000,
	})
	assert.InDelta(t, 2.5, cost.Input, 1e-9)
	assert.InDelta(t, 5.0, cost.Output, 1e-9)
	assert.InDelta(t, 7.5, cost.Total, 1e-9)
}

func TestEstimateZeroUsage(t *testing.T) {
	cost := Estimate(provider.TypeGoogle, "gemini-2.5-flash", relaymodel.Usage{})
	assert.Zero(t, cost.Input)
	assert.Zero(t, cost.Output)
	assert.Zero(t, cost.Total)
}
