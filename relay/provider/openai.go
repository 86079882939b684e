package provider

import (
	"net/http"

	"github.com/tidwall/gjson"

	relaymodel "github.com/proxed/gateway/relay/model"
)

// openAIAdapter normalizes OpenAI chat/completions bodies, both buffered and
// streamed (SSE chunk objects share the top-level usage/choices shape).
type openAIAdapter struct {
	descriptor Descriptor
}

func (a *openAIAdapter) Type() Type             { return TypeOpenAI }
func (a *openAIAdapter) Descriptor() Descriptor { return a.descriptor }

func (a *openAIAdapter) MapFinishReason(raw string) relaymodel.FinishReason {
	switch raw {
	case "stop":
		return relaymodel.FinishReasonStop
	case "length":
		return relaymodel.FinishReasonLength
	case "content_filter":
		return relaymodel.FinishReasonContentFilter
	case "function_call", "tool_calls":
		return relaymodel.FinishReasonToolCalls
	case "":
		return ""
	default:
		return relaymodel.FinishReason(raw)
	}
}

func (a *openAIAdapter) ExtractUsage(body []byte) (relaymodel.Usage, bool) {
	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() || usage.Type == gjson.Null {
		return relaymodel.Usage{}, false
	}
	u := relaymodel.Usage{
		PromptTokens:     int(usage.Get("prompt_tokens").Int()),
		CompletionTokens: int(usage.Get("completion_tokens").Int()),
		TotalTokens:      int(usage.Get("total_tokens").Int()),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u, true
}

func (a *openAIAdapter) ExtractFinishReason(body []byte) relaymodel.FinishReason {
	raw := gjson.GetBytes(body, "choices.0.finish_reason")
	if !raw.Exists() || raw.Type == gjson.Null {
		return ""
	}
	return a.MapFinishReason(raw.String())
}

func (a *openAIAdapter) ExtractModel(body []byte, _ string) string {
	return gjson.GetBytes(body, "model").String()
}

func (a *openAIAdapter) SetAuthHeaders(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

func (a *openAIAdapter) AllowedResponseHeaders() []string {
	return []string{
		"openai-organization",
		"openai-processing-ms",
		"openai-version",
		"x-ratelimit-limit-requests",
		"x-ratelimit-limit-tokens",
		"x-ratelimit-remaining-requests",
		"x-ratelimit-remaining-tokens",
		"x-ratelimit-reset-requests",
		"x-ratelimit-reset-tokens",
	}
}
