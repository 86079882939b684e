package common

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/go-redis/redis/v8"

	"github.com/proxed/gateway/common/config"
	"github.com/proxed/gateway/common/logger"
)

var RDB redis.Cmdable

// RedisBreakerName keys the circuit breaker guarding Redis calls.
const RedisBreakerName = "redis"

// CountableRedisError is the Redis breaker classifier: a missing key is a
// normal answer, everything else counts as a backend failure.
func CountableRedisError(err error) bool {
	return !errors.Is(err, redis.Nil)
}

var redisEnabled atomic.Bool

func IsRedisEnabled() bool {
	return redisEnabled.Load()
}

func SetRedisEnabled(enabled bool) {
	redisEnabled.Store(enabled)
}

// InitRedisClient connects to Redis when REDIS_CONN_STRING is set. Redis is
// optional: without it the rate limiter falls back to process-local counters.
func InitRedisClient() (err error) {
	if config.RedisConnString == "" {
		SetRedisEnabled(false)
		logger.Logger.Info("REDIS_CONN_STRING not set, Redis is not enabled")
		return nil
	}
	if config.RedisMasterName == "" {
		logger.Logger.Info("Redis is enabled")
		opt, err := redis.ParseURL(config.RedisConnString)
		if err != nil {
			logger.Logger.Fatal("failed to parse Redis connection string", zap.Error(err))
		}
		RDB = redis.NewClient(opt)
	} else {
		// cluster mode
		logger.Logger.Info("Redis cluster mode enabled")
		RDB = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:      strings.Split(config.RedisConnString, ","),
			Password:   config.RedisPassword,
			MasterName: config.RedisMasterName,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err = RDB.Ping(ctx).Result(); err != nil {
		logger.Logger.Fatal("Redis ping test failed", zap.Error(err))
	}
	SetRedisEnabled(true)
	return nil
}

// PingRedis reports whether the Redis backend currently answers, for health
// reporting.
func PingRedis(ctx context.Context) error {
	return RDB.Ping(ctx).Err()
}
