// Package headers implements the hop-by-hop/identity scrub applied to
// outbound requests and the allow-list filter applied to upstream responses.
package headers

import (
	"net/http"
	"strings"
)

// strippedRequestHeaders are never forwarded upstream: hop-by-hop headers,
// caller identity, and the gateway's own auth material.
var strippedRequestHeaders = map[string]bool{
	"host":                true,
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"content-length":      true,
	"accept-encoding":     true,
	"authorization":       true,
	"cookie":              true,
	"x-ai-key":            true,
	"x-device-token":      true,
	"x-proxed-test-key":   true,
	"x-forwarded-for":     true,
	"x-forwarded-host":    true,
	"x-forwarded-proto":   true,
	"x-real-ip":           true,
	"true-client-ip":      true,
	"cf-connecting-ip":    true,
	"cf-ipcountry":        true,
	"cf-ray":              true,
	"cf-visitor":          true,
}

// allowedResponseHeaders may pass back to the caller from any provider.
// Everything not listed here (or in the provider-specific extras) is dropped.
var allowedResponseHeaders = map[string]bool{
	"content-type":   true,
	"content-length": true,
	"cache-control":  true,
	"retry-after":    true,
	"x-request-id":   true,
}

// SanitizeRequest builds the outbound header set: caller headers minus the
// strip list, then provider overrides applied last so caller-supplied values
// never shadow them.
func SanitizeRequest(inbound http.Header, overrides http.Header) http.Header {
	out := http.Header{}
	for key, values := range inbound {
		if strippedRequestHeaders[strings.ToLower(key)] {
			continue
		}
		for _, v := range values {
			out.Add(key, v)
		}
	}
	for key, values := range overrides {
		out.Del(key)
		for _, v := range values {
			out.Add(key, v)
		}
	}
	return out
}

// FilterResponse reduces upstream response headers to the shared allow-list
// plus the provider's own diagnostic extras.
func FilterResponse(upstream http.Header, providerExtras []string) http.Header {
	extras := make(map[string]bool, len(providerExtras))
	for _, h := range providerExtras {
		extras[strings.ToLower(h)] = true
	}
	out := http.Header{}
	for key, values := range upstream {
		lower := strings.ToLower(key)
		if !allowedResponseHeaders[lower] && !extras[lower] && !strings.HasPrefix(lower, "x-ratelimit-") {
			continue
		}
		for _, v := range values {
			out.Add(key, v)
		}
	}
	return out
}
