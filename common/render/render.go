package render

import (
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/proxed/gateway/common/helper"
	relaymodel "github.com/proxed/gateway/relay/model"
)

// SetEventStreamHeaders prepares the client connection for a relayed SSE
// body. Headers already supplied by the upstream filter pass take precedence.
func SetEventStreamHeaders(c *gin.Context) {
	if c.Writer.Header().Get("Content-Type") == "" {
		c.Writer.Header().Set("Content-Type", "text/event-stream")
	}
	if c.Writer.Header().Get("Cache-Control") == "" {
		c.Writer.Header().Set("Cache-Control", "no-cache")
	}
	if c.Writer.Header().Get("Connection") == "" {
		c.Writer.Header().Set("Connection", "keep-alive")
	}
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}

// Error writes the standard error envelope and aborts the request. Client
// errors log as warnings, server errors as errors; the cause stays in the
// log, never in the response.
func Error(c *gin.Context, resp *relaymodel.ErrorWithStatusCode) {
	logger := gmw.GetLogger(c)
	fields := []zap.Field{
		zap.String("code", string(resp.Code)),
		zap.Int("status", resp.StatusCode),
		zap.String("path", c.Request.URL.Path),
	}
	if resp.Cause != nil {
		fields = append(fields, zap.Error(resp.Cause))
	}
	if resp.StatusCode >= 500 {
		logger.Error(resp.Message, fields...)
	} else {
		logger.Warn(resp.Message, fields...)
	}

	body := gin.H{
		"error":     resp.Code,
		"message":   resp.Message,
		"requestId": c.GetString(helper.RequestIdKey),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if resp.Details != nil {
		body["details"] = resp.Details
	}
	c.JSON(resp.StatusCode, body)
	c.Abort()
}
