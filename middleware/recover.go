package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/proxed/gateway/common/logger"
	"github.com/proxed/gateway/common/render"
	relaymodel "github.com/proxed/gateway/relay/model"
)

func RelayPanicRecover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Logger.Error("panic detected",
					zap.Any("panic", err),
					zap.String("stacktrace", string(debug.Stack())),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path))
				render.Error(c, relaymodel.NewError(relaymodel.CodeInternalError,
					fmt.Sprintf("internal error: %v", err)))
			}
		}()
		c.Next()
	}
}
