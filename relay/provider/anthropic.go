package provider

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/proxed/gateway/common/config"
	relaymodel "github.com/proxed/gateway/relay/model"
)

// anthropicAdapter normalizes Anthropic Messages bodies. Streamed usage is
// split across events: message_start carries input_tokens, message_delta
// carries the final output_tokens and stop_reason.
type anthropicAdapter struct {
	descriptor Descriptor
}

func (a *anthropicAdapter) Type() Type             { return TypeAnthropic }
func (a *anthropicAdapter) Descriptor() Descriptor { return a.descriptor }

func (a *anthropicAdapter) MapFinishReason(raw string) relaymodel.FinishReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return relaymodel.FinishReasonStop
	case "max_tokens":
		return relaymodel.FinishReasonLength
	case "tool_use":
		return relaymodel.FinishReasonToolCalls
	case "":
		return ""
	default:
		return relaymodel.FinishReason(raw)
	}
}

func (a *anthropicAdapter) ExtractUsage(body []byte) (relaymodel.Usage, bool) {
	// Complete bodies and message_delta events put usage at the top level;
	// message_start nests it under message.
	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() {
		usage = gjson.GetBytes(body, "message.usage")
	}
	if !usage.Exists() || usage.Type == gjson.Null {
		return relaymodel.Usage{}, false
	}
	u := relaymodel.Usage{
		PromptTokens:     int(usage.Get("input_tokens").Int()),
		CompletionTokens: int(usage.Get("output_tokens").Int()),
	}
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return relaymodel.Usage{}, false
	}
	// No total is reported by this API; it is backfilled at accounting time
	// so streamed partial sums never masquerade as a final total.
	return u, true
}

func (a *anthropicAdapter) ExtractFinishReason(body []byte) relaymodel.FinishReason {
	raw := gjson.GetBytes(body, "stop_reason")
	if !raw.Exists() {
		raw = gjson.GetBytes(body, "delta.stop_reason")
	}
	if !raw.Exists() || raw.Type == gjson.Null {
		return ""
	}
	return a.MapFinishReason(raw.String())
}

func (a *anthropicAdapter) ExtractModel(body []byte, _ string) string {
	if m := gjson.GetBytes(body, "model"); m.Exists() {
		return m.String()
	}
	return gjson.GetBytes(body, "message.model").String()
}

func (a *anthropicAdapter) SetAuthHeaders(h http.Header, apiKey string) {
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", config.AnthropicVersion)
}

func (a *anthropicAdapter) AllowedResponseHeaders() []string {
	return []string{
		"anthropic-ratelimit-requests-limit",
		"anthropic-ratelimit-requests-remaining",
		"anthropic-ratelimit-requests-reset",
		"anthropic-ratelimit-tokens-limit",
		"anthropic-ratelimit-tokens-remaining",
		"anthropic-ratelimit-tokens-reset",
		"anthropic-version",
	}
}
