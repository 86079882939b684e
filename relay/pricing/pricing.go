// Package pricing estimates the USD cost of a relayed request from accounted
// token usage.
package pricing

import (
	"strings"

	relaymodel "github.com/proxed/gateway/relay/model"
	"github.com/proxed/gateway/relay/provider"
)

// rate is USD per million tokens, split by direction.
type rate struct {
	Input  float64
	Output float64
}

// modelRates maps model identifiers to their published per-million-token
// prices. Lookup falls back to the longest matching prefix so dated variants
// (gpt-4o-2024-08-06, claude-sonnet-4-20250514) price like their base model.
var modelRates = map[string]rate{
	// OpenAI
	"gpt-4o":         {Input: 2.5, Output: 10},
	"gpt-4o-mini":    {Input: 0.15, Output: 0.6},
	"gpt-4.1":        {Input: 2, Output: 8},
	"gpt-4.1-mini":   {Input: 0.4, Output: 1.6},
	"gpt-4.1-nano":   {Input: 0.1, Output: 0.4},
	"gpt-4-turbo":    {Input: 10, Output: 30},
	"gpt-3.5-turbo":  {Input: 0.5, Output: 1.5},
	"o1":             {Input: 15, Output: 60},
	"o1-mini":        {Input: 1.1, Output: 4.4},
	"o3-mini":        {Input: 1.1, Output: 4.4},
	"o4-mini":        {Input: 1.1, Output: 4.4},
	"text-embedding": {Input: 0.02, Output: 0},

	// Anthropic
	"claude-opus-4":     {Input: 15, Output: 75},
	"claude-sonnet-4":   {Input: 3, Output: 15},
	"claude-3-7-sonnet": {Input: 3, Output: 15},
	"claude-3-5-sonnet": {Input: 3, Output: 15},
	"claude-3-5-haiku":  {Input: 0.8, Output: 4},
	"claude-3-haiku":    {Input: 0.25, Output: 1.25},
	"claude-3-opus":     {Input: 15, Output: 75},

	// Google
	"gemini-2.5-pro":   {Input: 1.25, Output: 10},
	"gemini-2.5-flash": {Input: 0.3, Output: 2.5},
	"gemini-2.0-flash": {Input: 0.1, Output: 0.4},
	"gemini-1.5-pro":   {Input: 1.25, Output: 5},
	"gemini-1.5-flash": {Input: 0.075, Output: 0.3},
}

// defaultRates applies when no model prefix matches, keyed by provider.
var defaultRates = map[provider.Type]rate{
	provider.TypeOpenAI:    {Input: 2.5, Output: 10},
	provider.TypeAnthropic: {Input: 3, Output: 15},
	provider.TypeGoogle:    {Input: 1.25, Output: 10},
}

// Cost is a USD cost estimate for one request.
type Cost struct {
	Input  float64
	Output float64
	Total  float64
}

// lookupRate resolves a model to its rate by exact match, then longest
// prefix, then the provider default.
func lookupRate(providerType provider.Type, model string) rate {
	if r, ok := modelRates[model]; ok {
		return r
	}
	var best string
	for prefix := range modelRates {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return modelRates[best]
	}
	return defaultRates[providerType]
}

// Estimate prices accounted usage for the given provider and model. Unknown
// models fall back to the provider's default rate so accounting never loses a
// record to a missing price.
func Estimate(providerType provider.Type, model string, usage relaymodel.Usage) Cost {
	r := lookupRate(providerType, model)
	in := float64(usage.PromptTokens) * r.Input / 1e6
	out := float64(usage.CompletionTokens) * r.Output / 1e6
	return Cost{Input: in, Output: out, Total: in + out}
}
