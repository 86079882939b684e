package middleware

import (
	"fmt"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	"github.com/proxed/gateway/common"
	"github.com/proxed/gateway/common/config"
	"github.com/proxed/gateway/common/logger"
	"github.com/proxed/gateway/common/render"
	"github.com/proxed/gateway/relay/breaker"
	relaymodel "github.com/proxed/gateway/relay/model"
)

var inMemoryRateLimiter = gocache.New(config.RateLimitKeyExpiration, 10*time.Minute)

// redisRateLimit runs a fixed window against Redis, under the Redis circuit
// breaker when one is registered. The error return means Redis itself failed
// or its breaker is open, not that the limit was hit.
func redisRateLimit(c *gin.Context, key string, maxRequests int, window time.Duration) (allowed bool, err error) {
	ctx := c.Request.Context()
	var count int64
	op := func() error {
		var opErr error
		count, opErr = common.RDB.Incr(ctx, key).Result()
		if opErr != nil {
			return opErr
		}
		if count == 1 {
			return common.RDB.Expire(ctx, key, window).Err()
		}
		return nil
	}
	if br := breaker.Get(common.RedisBreakerName); br != nil {
		err = br.Execute(op)
	} else {
		err = op()
	}
	if err != nil {
		return false, err
	}
	return count <= int64(maxRequests), nil
}

// memoryRateLimit is the single-node fallback when Redis is absent or down.
func memoryRateLimit(key string, maxRequests int, window time.Duration) bool {
	// Add is a no-op while a window is already open for this key.
	_ = inMemoryRateLimiter.Add(key, int64(0), window)
	count, err := inMemoryRateLimiter.IncrementInt64(key, 1)
	if err != nil {
		// Window expired between Add and Increment; start over.
		inMemoryRateLimiter.Set(key, int64(1), window)
		return true
	}
	return count <= int64(maxRequests)
}

// rateLimit applies one fixed window keyed by limit class, caller identity,
// and request path, so heavy traffic on one route does not starve another.
func rateLimit(c *gin.Context, class, identifier string, maxRequests int, window time.Duration) {
	key := fmt.Sprintf("rateLimit:%s:%s:%s", class, identifier, c.Request.URL.Path)

	if common.IsRedisEnabled() {
		allowed, err := redisRateLimit(c, key, maxRequests, window)
		if err != nil {
			// Redis trouble must not take the relay path down with it.
			logger.Logger.Warn("redis rate limiter unavailable, falling back to memory",
				zap.String("key", key),
				zap.Error(err))
			allowed = memoryRateLimit(key, maxRequests, window)
		}
		if !allowed {
			tooManyRequests(c)
			return
		}
		c.Next()
		return
	}

	if !memoryRateLimit(key, maxRequests, window) {
		tooManyRequests(c)
		return
	}
	c.Next()
}

func tooManyRequests(c *gin.Context) {
	render.Error(c, relaymodel.NewError(relaymodel.CodeTooManyRequests,
		"rate limit exceeded, please slow down"))
}

// RelayRateLimit applies the fixed-window limit per project, falling back to
// the client address before the project id is known.
func RelayRateLimit() gin.HandlerFunc {
	if !config.RateLimitEnabled {
		return func(c *gin.Context) { c.Next() }
	}
	window := time.Duration(config.RelayRateLimitWindowSeconds) * time.Second
	return func(c *gin.Context) {
		identifier := c.Param("projectId")
		if identifier == "" {
			identifier = c.ClientIP()
		}
		rateLimit(c, "relay", identifier, config.RelayRateLimitNum, window)
	}
}
