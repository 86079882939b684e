package provider

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	relaymodel "github.com/proxed/gateway/relay/model"
)

// googleAdapter normalizes Google Generative Language bodies. The API is
// path-addressed (models/{name}:generateContent), so the model identifier
// usually comes from the request URL rather than the body.
type googleAdapter struct {
	descriptor Descriptor
}

func (a *googleAdapter) Type() Type             { return TypeGoogle }
func (a *googleAdapter) Descriptor() Descriptor { return a.descriptor }

func (a *googleAdapter) MapFinishReason(raw string) relaymodel.FinishReason {
	switch raw {
	case "STOP":
		return relaymodel.FinishReasonStop
	case "MAX_TOKENS":
		return relaymodel.FinishReasonLength
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT":
		return relaymodel.FinishReasonContentFilter
	case "OTHER":
		return relaymodel.FinishReasonOther
	case "":
		return ""
	default:
		return relaymodel.FinishReason(raw)
	}
}

func (a *googleAdapter) ExtractUsage(body []byte) (relaymodel.Usage, bool) {
	usage := gjson.GetBytes(body, "usageMetadata")
	if !usage.Exists() || usage.Type == gjson.Null {
		return relaymodel.Usage{}, false
	}
	u := relaymodel.Usage{
		PromptTokens:     int(usage.Get("promptTokenCount").Int()),
		CompletionTokens: int(usage.Get("candidatesTokenCount").Int()),
		TotalTokens:      int(usage.Get("totalTokenCount").Int()),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u, true
}

func (a *googleAdapter) ExtractFinishReason(body []byte) relaymodel.FinishReason {
	raw := gjson.GetBytes(body, "candidates.0.finishReason")
	if !raw.Exists() || raw.Type == gjson.Null {
		return ""
	}
	return a.MapFinishReason(raw.String())
}

func (a *googleAdapter) ExtractModel(body []byte, requestPath string) string {
	if m := gjson.GetBytes(body, "modelVersion"); m.Exists() && m.String() != "" {
		return m.String()
	}
	return ModelFromPath(requestPath)
}

// ModelFromPath recovers the model name from a path-addressed request like
// "models/gemini-2.0-flash:generateContent".
func ModelFromPath(requestPath string) string {
	const prefix = "models/"
	idx := strings.Index(requestPath, prefix)
	if idx < 0 {
		return ""
	}
	rest := requestPath[idx+len(prefix):]
	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		rest = rest[:colon]
	}
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func (a *googleAdapter) SetAuthHeaders(h http.Header, apiKey string) {
	h.Set("x-goog-api-key", apiKey)
}

func (a *googleAdapter) AllowedResponseHeaders() []string {
	return []string{"server-timing"}
}
