// Package router wires the HTTP surface onto the gin engine.
package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/proxed/gateway/common/config"
	"github.com/proxed/gateway/common/graceful"
	"github.com/proxed/gateway/controller"
	"github.com/proxed/gateway/middleware"
	relaycontroller "github.com/proxed/gateway/relay/controller"
)

// SetRouter installs all routes and their middleware chains.
func SetRouter(server *gin.Engine) {
	server.Use(middleware.RequestId())
	server.Use(graceful.GinRequestTracker())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		"x-ai-key", "x-device-token", "x-proxed-test-key",
	}
	server.Use(cors.New(corsConfig))

	server.GET("/health", controller.GetHealth)
	if config.EnablePrometheusMetrics {
		server.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	relay := server.Group("/v1")
	relay.Use(middleware.RelayPanicRecover())
	relay.Use(middleware.RelayRateLimit())

	authed := relay.Group("")
	authed.Use(middleware.RelayAuth())
	authed.Any("/:provider/:projectId/*path", relaycontroller.Relay)

	// Accounting lookups authenticate the same way relay calls do.
	executions := server.Group("/executions")
	executions.Use(middleware.RelayPanicRecover())
	executions.Use(middleware.RelayRateLimit())
	executions.Use(middleware.RelayAuth())
	executions.GET("/:provider/:projectId", relaycontroller.ListExecutions)
}
