package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxed/gateway/common"
	"github.com/proxed/gateway/common/config"
	"github.com/proxed/gateway/relay/breaker"
)

func runRateLimit(projectId, path string) *gin.Context {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", path, nil)
	c.Params = gin.Params{{Key: "projectId", Value: projectId}}
	RelayRateLimit()(c)
	return c
}

func TestRateLimitWindowIsPerPath(t *testing.T) {
	origNum := config.RelayRateLimitNum
	config.RelayRateLimitNum = 1
	t.Cleanup(func() { config.RelayRateLimitNum = origNum })

	projectId := "proj-window-" + time.Now().Format("150405.000000000")

	c := runRateLimit(projectId, "/v1/openai/"+projectId+"/chat/completions")
	assert.False(t, c.IsAborted())

	// Second call on the same path exceeds the window.
	c = runRateLimit(projectId, "/v1/openai/"+projectId+"/chat/completions")
	assert.True(t, c.IsAborted())

	// A different path opens its own window.
	c = runRateLimit(projectId, "/v1/openai/"+projectId+"/embeddings")
	assert.False(t, c.IsAborted())
}

func TestRateLimitRedisOutageFailsOpen(t *testing.T) {
	origRDB := common.RDB
	common.RDB = redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	common.SetRedisEnabled(true)
	t.Cleanup(func() {
		common.SetRedisEnabled(false)
		common.RDB = origRDB
	})

	br := breaker.Register(common.RedisBreakerName, breaker.Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		Classifier:       common.CountableRedisError,
	})
	t.Cleanup(func() {
		breaker.Register(common.RedisBreakerName, breaker.Config{FailureThreshold: 1 << 20})
	})

	projectId := "proj-outage-" + time.Now().Format("150405.000000000")
	for i := 0; i < 3; i++ {
		c := runRateLimit(projectId, "/v1/openai/"+projectId+"/chat/completions")
		require.False(t, c.IsAborted(), "request %d must pass on the memory fallback", i)
	}
	// The first failed call tripped the breaker; later calls never reach Redis.
	assert.Equal(t, "open", br.GetState().State)
}
