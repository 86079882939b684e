// Package forward executes one upstream HTTP call with timeout, sequential
// retry/backoff, and circuit-breaker protection.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/proxed/gateway/common/client"
	"github.com/proxed/gateway/common/logger"
	"github.com/proxed/gateway/monitor"
	"github.com/proxed/gateway/relay/breaker"
	"github.com/proxed/gateway/relay/headers"
	relaymodel "github.com/proxed/gateway/relay/model"
	"github.com/proxed/gateway/relay/provider"
)

// maxBackoff caps the delay between attempts.
const maxBackoff = 30 * time.Second

// Config describes one forwarding operation.
type Config struct {
	// Headers are the caller's inbound headers; they are sanitized before
	// forwarding.
	Headers http.Header
	// Overrides are provider-specific header values that always win over
	// caller-supplied ones (auth scheme, version headers).
	Overrides http.Header
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// RetryBaseDelay is the exponential backoff base.
	RetryBaseDelay time.Duration
	// Timeout bounds each individual attempt. For streaming responses it
	// bounds time to response headers only; the stream body runs under the
	// caller's context.
	Timeout time.Duration
	// Provider selects the circuit breaker and response-header extras.
	Provider provider.Adapter
}

// Result is what one forwarding operation yields.
type Result struct {
	// Response is the final upstream response. Its body is unread; streaming
	// responses must be relayed, buffered ones drained by the caller.
	Response *http.Response
	// Headers is the allow-list-filtered response header set.
	Headers http.Header
	// LatencyMs is the total wall time across all attempts.
	LatencyMs int64
	// Retries is the number of retries actually performed.
	Retries int
	// Streaming reports whether the response body is an incremental stream.
	Streaming bool
}

// upstreamStatusError marks a retryable-class HTTP status so the breaker can
// count it; the response itself is still delivered to the caller.
type upstreamStatusError struct {
	status int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.status)
}

// retryableStatus reports whether an HTTP status justifies another attempt.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Countable is the breaker classifier: network errors, timeouts, and
// retryable-class statuses count; anything the upstream answered below 429
// does not trip the breaker.
func Countable(err error) bool {
	var statusErr *upstreamStatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.status)
	}
	return true
}

// Do performs the upstream call described by cfg. The body is replayed from
// the given bytes on each attempt; retries are strictly sequential.
//
// A nil error with a non-2xx Response is possible: upstream answers outside
// the retryable class (429/502/503/504) are surfaced as-is. A non-nil error
// means no usable response exists, including a retryable status that
// persisted past the retry budget.
func Do(ctx context.Context, method, targetURL string, body []byte, cfg Config) (*Result, *relaymodel.ErrorWithStatusCode) {
	outHeaders := headers.SanitizeRequest(cfg.Headers, cfg.Overrides)
	br := breaker.Get(string(cfg.Provider.Type()))

	start := time.Now()
	retries := 0
	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			retries++
			monitor.RecordRetry(string(cfg.Provider.Type()))
			select {
			case <-time.After(backoffDelay(cfg.RetryBaseDelay, attempt-1)):
			case <-ctx.Done():
				return nil, relaymodel.ProviderError("request canceled during backoff", retries, targetURL, ctx.Err())
			}
		}

		resp, lastErr = attemptOnce(ctx, br, method, targetURL, body, outHeaders, cfg.Timeout)
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, breaker.ErrOpen) {
			e := relaymodel.ProviderError("upstream circuit breaker is open", retries, targetURL, lastErr)
			e.StatusCode = http.StatusServiceUnavailable
			return nil, e
		}

		var statusErr *upstreamStatusError
		if errors.As(lastErr, &statusErr) {
			// Retryable status: the response is kept so the final one can be
			// surfaced after the budget runs out.
			if attempt < cfg.MaxRetries {
				drainBody(resp)
				continue
			}
			break
		}

		logger.Logger.Warn("upstream attempt failed",
			zap.String("url", targetURL),
			zap.String("provider", string(cfg.Provider.Type())),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}

	latency := time.Since(start).Milliseconds()
	var statusErr *upstreamStatusError
	if errors.As(lastErr, &statusErr) {
		// The retry budget ran out on a retryable status; the upstream body
		// is not worth relaying at this point.
		drainBody(resp)
		return nil, relaymodel.ProviderError(
			fmt.Sprintf("upstream returned status %d after exhausting retries", statusErr.status),
			retries, targetURL, lastErr)
	}
	if resp == nil {
		if isTimeout(lastErr) {
			e := relaymodel.ProviderError("upstream request timed out", retries, targetURL, lastErr)
			e.StatusCode = http.StatusGatewayTimeout
			return nil, e
		}
		return nil, relaymodel.ProviderError("upstream request failed", retries, targetURL, lastErr)
	}

	return &Result{
		Response:  resp,
		Headers:   headers.FilterResponse(resp.Header, cfg.Provider.AllowedResponseHeaders()),
		LatencyMs: latency,
		Retries:   retries,
		Streaming: IsStreaming(resp.Header.Get("Content-Type")),
	}, nil
}

// attemptOnce runs a single attempt under the breaker. The returned response
// is non-nil whenever the upstream answered, even if err carries a
// retryable-status marker.
func attemptOnce(ctx context.Context, br *breaker.Breaker, method, targetURL string, body []byte, hdr http.Header, timeout time.Duration) (*http.Response, error) {
	// The attempt deadline is armed as a disarmable timer rather than a
	// context deadline: once a streaming response has delivered its headers
	// the timer is stopped, leaving the body bounded only by the caller's
	// context. Buffered bodies stay under the timer until fully read.
	attemptCtx := ctx
	release := func() {}
	var deadline *time.Timer
	if timeout > 0 {
		cctx, cancel := context.WithCancelCause(ctx)
		attemptCtx = cctx
		deadline = time.AfterFunc(timeout, func() { cancel(context.DeadlineExceeded) })
		release = func() {
			deadline.Stop()
			cancel(nil)
		}
	}

	var resp *http.Response
	op := func() error {
		req, err := http.NewRequestWithContext(attemptCtx, method, targetURL, bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, "build upstream request")
		}
		req.Header = hdr.Clone()

		r, err := client.HTTPClient.Do(req)
		if err != nil {
			if errors.Is(context.Cause(attemptCtx), context.DeadlineExceeded) {
				// The timer fired, not the caller; report it as a timeout.
				err = context.DeadlineExceeded
			}
			return errors.Wrap(err, "do upstream request")
		}
		resp = r
		if retryableStatus(r.StatusCode) {
			return errors.WithStack(&upstreamStatusError{status: r.StatusCode})
		}
		return nil
	}

	var err error
	if br != nil {
		err = br.Execute(op)
	} else {
		err = op()
	}

	if deadline != nil {
		if resp == nil {
			release()
		} else {
			if IsStreaming(resp.Header.Get("Content-Type")) {
				deadline.Stop()
			}
			// Releasing the context tears the socket down promptly once the
			// caller finishes reading.
			resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: release}
		}
	}
	return resp, err
}

// cancelOnCloseBody carries the per-attempt context release along with the
// response body so the context is freed exactly when the body closes.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel func()
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// backoffDelay computes base*2^attempt plus 0-25% jitter, capped at 30s.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	delay := base << uint(attempt)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	delay += jitter
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || breaker.IsOperationTimeout(err) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsStreaming detects incremental bodies by content type: SSE, NDJSON, and
// generic stream markers.
func IsStreaming(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/event-stream") ||
		strings.Contains(ct, "application/x-ndjson") ||
		strings.Contains(ct, "application/jsonl") ||
		strings.Contains(ct, "stream+json") ||
		strings.Contains(ct, "application/stream")
}

func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_ = resp.Body.Close()
}
