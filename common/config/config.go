// Package config holds process-wide configuration sourced from the
// environment at startup.
package config

import (
	"strings"
	"time"

	"github.com/proxed/gateway/common/env"
)

var (
	// ServerPort overrides the default listen port when running inside
	// container or PaaS environments.
	ServerPort = strings.TrimSpace(env.String("PORT", "3000"))
	// GinMode allows forcing Gin into release mode (or other modes) without
	// recompiling.
	GinMode = strings.TrimSpace(env.String("GIN_MODE", ""))

	// DebugEnabled toggles verbose structured logging when DEBUG=true.
	DebugEnabled = env.Bool("DEBUG", false)

	// SQLDSN provides the primary database DSN; empty indicates that SQLite
	// should be used.
	SQLDSN = strings.TrimSpace(env.String("SQL_DSN", ""))
	// SQLitePath specifies the SQLite database file path when SQL_DSN is
	// absent.
	SQLitePath = env.String("SQLITE_PATH", "proxed.db")
	// SQLiteBusyTimeout configures the SQLite busy timeout in milliseconds to
	// mitigate locking errors.
	SQLiteBusyTimeout = env.Int("SQLITE_BUSY_TIMEOUT", 3000)
	// SQLMaxIdleConns controls the database pool's idle connection count.
	SQLMaxIdleConns = env.Int("SQL_MAX_IDLE_CONNS", 100)
	// SQLMaxOpenConns controls the database pool's maximum open connections.
	SQLMaxOpenConns = env.Int("SQL_MAX_OPEN_CONNS", 1000)
	// SQLMaxLifetimeSeconds sets how long database connections live before
	// being recycled (seconds).
	SQLMaxLifetimeSeconds = env.Int("SQL_MAX_LIFETIME", 300)

	// RedisConnString defines the Redis connection string; leaving it empty
	// disables Redis-backed rate limiting and limit caching.
	RedisConnString = strings.TrimSpace(env.String("REDIS_CONN_STRING", ""))
	// RedisPassword supplies the Redis authentication password when required.
	RedisPassword = env.String("REDIS_PASSWORD", "")
	// RedisMasterName enables Redis sentinel/cluster discovery when provided.
	RedisMasterName = strings.TrimSpace(env.String("REDIS_MASTER_NAME", ""))

	// RateLimitEnabled toggles the fixed-window rate limiter on relay routes.
	RateLimitEnabled = env.Bool("RATE_LIMIT_ENABLED", true)
	// RelayRateLimitNum bounds relay calls per project within the window.
	RelayRateLimitNum = env.Int("RELAY_RATE_LIMIT", 480)
	// RelayRateLimitWindowSeconds sets the duration of the relay rate limit
	// window (seconds).
	RelayRateLimitWindowSeconds int64 = 3 * 60

	// ProjectAuthCacheSeconds controls how long resolved project
	// authorization snapshots stay cached in process memory.
	ProjectAuthCacheSeconds = env.Int("PROJECT_AUTH_CACHE_SECONDS", 30)
	// TeamLimitsCacheSeconds controls how long team billing-limit snapshots
	// stay cached.
	TeamLimitsCacheSeconds = env.Int("TEAM_LIMITS_CACHE_SECONDS", 60)

	// DeviceCheckEndpoint is the Apple DeviceCheck API base URL. Point it at
	// api.development.devicecheck.apple.com for sandbox builds.
	DeviceCheckEndpoint = strings.TrimSuffix(env.String("DEVICE_CHECK_ENDPOINT", "https://api.devicecheck.apple.com"), "/")
	// DeviceCheckTimeout bounds the attestation round trip.
	DeviceCheckTimeout = env.Duration("DEVICE_CHECK_TIMEOUT_MS", 10*time.Second)

	// BreakerFailureThreshold is the consecutive-failure count that opens a
	// circuit breaker.
	BreakerFailureThreshold = env.Int("BREAKER_FAILURE_THRESHOLD", 5)
	// BreakerResetTimeout is how long an open breaker waits before admitting
	// a trial request.
	BreakerResetTimeout = env.Duration("BREAKER_RESET_TIMEOUT_MS", 30*time.Second)

	// AccountingTimeout bounds detached accounting persistence after a
	// streamed response completes.
	AccountingTimeout = env.Duration("ACCOUNTING_TIMEOUT_MS", 30*time.Second)

	// ShutdownTimeoutSec specifies the graceful shutdown timeout (seconds)
	// for the HTTP server and detached accounting tasks.
	ShutdownTimeoutSec = env.Int("SHUTDOWN_TIMEOUT", 60)

	// EnablePrometheusMetrics exposes the /metrics endpoint for Prometheus
	// scrapers when true.
	EnablePrometheusMetrics = env.Bool("ENABLE_PROMETHEUS_METRICS", true)
)

// Provider-specific settings. Base URLs, retry budgets, delays, and timeouts
// are environment-sourced per provider and loaded once at process start.
var (
	// OpenAIBaseURL is the upstream base URL for OpenAI-family calls.
	OpenAIBaseURL = strings.TrimSuffix(env.String("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/")
	// OpenAIMaxRetries caps additional attempts after the first OpenAI call.
	OpenAIMaxRetries = env.Int("OPENAI_MAX_RETRIES", 2)
	// OpenAIRetryBaseDelay is the exponential backoff base for OpenAI retries.
	OpenAIRetryBaseDelay = env.Duration("OPENAI_RETRY_BASE_DELAY_MS", 500*time.Millisecond)
	// OpenAITimeout bounds a single OpenAI upstream attempt.
	OpenAITimeout = env.Duration("OPENAI_TIMEOUT_MS", 120*time.Second)

	// AnthropicBaseURL is the upstream base URL for Anthropic calls.
	AnthropicBaseURL = strings.TrimSuffix(env.String("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"), "/")
	// AnthropicMaxRetries caps additional attempts after the first Anthropic call.
	AnthropicMaxRetries = env.Int("ANTHROPIC_MAX_RETRIES", 2)
	// AnthropicRetryBaseDelay is the exponential backoff base for Anthropic retries.
	AnthropicRetryBaseDelay = env.Duration("ANTHROPIC_RETRY_BASE_DELAY_MS", 500*time.Millisecond)
	// AnthropicTimeout bounds a single Anthropic upstream attempt.
	AnthropicTimeout = env.Duration("ANTHROPIC_TIMEOUT_MS", 120*time.Second)
	// AnthropicVersion is the anthropic-version header value sent upstream.
	AnthropicVersion = env.String("ANTHROPIC_VERSION", "2023-06-01")

	// GoogleBaseURL is the upstream base URL for Google Generative Language calls.
	GoogleBaseURL = strings.TrimSuffix(env.String("GOOGLE_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"), "/")
	// GoogleMaxRetries caps additional attempts after the first Google call.
	GoogleMaxRetries = env.Int("GOOGLE_MAX_RETRIES", 2)
	// GoogleRetryBaseDelay is the exponential backoff base for Google retries.
	GoogleRetryBaseDelay = env.Duration("GOOGLE_RETRY_BASE_DELAY_MS", 500*time.Millisecond)
	// GoogleTimeout bounds a single Google upstream attempt.
	GoogleTimeout = env.Duration("GOOGLE_TIMEOUT_MS", 120*time.Second)
)

// RateLimitKeyExpiration controls how long Redis keys for rate limiting
// remain valid beyond their window.
var RateLimitKeyExpiration = 20 * time.Minute
