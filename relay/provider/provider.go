// Package provider normalizes the three upstream AI provider APIs behind a
// closed Adapter interface. One adapter exists per provider; it is selected
// once at request entry and never re-branched per call site.
package provider

import (
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/proxed/gateway/common/config"
	relaymodel "github.com/proxed/gateway/relay/model"
)

// Type enumerates the supported upstream providers.
type Type string

const (
	TypeOpenAI    Type = "openai"
	TypeAnthropic Type = "anthropic"
	TypeGoogle    Type = "google"
)

// Descriptor is the static per-provider configuration, loaded from the
// environment at process start and never mutated afterwards.
type Descriptor struct {
	Type           Type
	BaseURL        string
	MaxRetries     int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
}

// Adapter is the per-provider normalization surface. Implementations are
// stateless and safe for concurrent use.
type Adapter interface {
	Type() Type
	Descriptor() Descriptor

	// MapFinishReason maps the provider's stop vocabulary onto the canonical
	// enumeration. Unrecognized values are returned unchanged.
	MapFinishReason(raw string) relaymodel.FinishReason

	// ExtractUsage reads token counts from a complete JSON body or a
	// streamed fragment. ok is false when the payload carries no usage.
	ExtractUsage(body []byte) (usage relaymodel.Usage, ok bool)

	// ExtractFinishReason recovers the (already mapped) finish reason from a
	// JSON body or streamed fragment, or "" when absent.
	ExtractFinishReason(body []byte) relaymodel.FinishReason

	// ExtractModel recovers the effective model identifier from the response
	// body, falling back to the request path for path-addressed APIs.
	ExtractModel(body []byte, requestPath string) string

	// SetAuthHeaders installs the provider's authentication scheme for the
	// reassembled API key. These values override anything client-supplied.
	SetAuthHeaders(h http.Header, apiKey string)

	// AllowedResponseHeaders lists provider-specific diagnostic headers that
	// may pass back to the caller, in addition to the shared allow-list.
	AllowedResponseHeaders() []string
}

var registry map[Type]Adapter

// Init builds the adapter registry from environment-sourced descriptors.
// Must be called once at startup before GetAdapter.
func Init() {
	registry = map[Type]Adapter{
		TypeOpenAI: &openAIAdapter{descriptor: Descriptor{
			Type:           TypeOpenAI,
			BaseURL:        config.OpenAIBaseURL,
			MaxRetries:     config.OpenAIMaxRetries,
			RetryBaseDelay: config.OpenAIRetryBaseDelay,
			Timeout:        config.OpenAITimeout,
		}},
		TypeAnthropic: &anthropicAdapter{descriptor: Descriptor{
			Type:           TypeAnthropic,
			BaseURL:        config.AnthropicBaseURL,
			MaxRetries:     config.AnthropicMaxRetries,
			RetryBaseDelay: config.AnthropicRetryBaseDelay,
			Timeout:        config.AnthropicTimeout,
		}},
		TypeGoogle: &googleAdapter{descriptor: Descriptor{
			Type:           TypeGoogle,
			BaseURL:        config.GoogleBaseURL,
			MaxRetries:     config.GoogleMaxRetries,
			RetryBaseDelay: config.GoogleRetryBaseDelay,
			Timeout:        config.GoogleTimeout,
		}},
	}
}

// GetAdapter returns the adapter for the given provider path segment.
func GetAdapter(raw string) (Adapter, error) {
	a, ok := registry[Type(raw)]
	if !ok {
		return nil, errors.Errorf("unsupported provider: %q", raw)
	}
	return a, nil
}

// All returns every registered adapter, for health reporting and breaker
// registration.
func All() []Adapter {
	out := make([]Adapter, 0, len(registry))
	for _, a := range registry {
		out = append(out, a)
	}
	return out
}
