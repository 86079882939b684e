package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"

	"github.com/proxed/gateway/common"
	"github.com/proxed/gateway/common/client"
	"github.com/proxed/gateway/common/config"
	"github.com/proxed/gateway/common/graceful"
	"github.com/proxed/gateway/common/logger"
	"github.com/proxed/gateway/model"
	"github.com/proxed/gateway/monitor"
	"github.com/proxed/gateway/relay/breaker"
	"github.com/proxed/gateway/relay/forward"
	"github.com/proxed/gateway/relay/provider"
	"github.com/proxed/gateway/router"
)

func main() {
	logger.Setup()
	logger.Logger.Info("proxed gateway starting")

	if config.GinMode != gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	model.InitDB()
	defer func() {
		if err := model.CloseDB(); err != nil {
			logger.Logger.Error("failed to close database", zap.Error(err))
		}
	}()

	if err := common.InitRedisClient(); err != nil {
		logger.Logger.Fatal("failed to initialize Redis", zap.Error(err))
	}

	client.Init()
	provider.Init()
	registerBreakers()

	if config.EnablePrometheusMetrics {
		monitor.Init()
	}

	logLevel := glog.LevelInfo
	if config.DebugEnabled {
		logLevel = glog.LevelDebug
	}

	server := gin.New()
	server.RedirectTrailingSlash = false
	server.Use(
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(logLevel.String()),
			gmw.WithLogger(logger.Logger.Named("gin")),
		),
	)
	router.SetRouter(server)

	srv := &http.Server{
		Addr:    ":" + config.ServerPort,
		Handler: server,
	}

	go func() {
		logger.Logger.Info("server started", zap.String("address", "http://localhost:"+config.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info("shutdown signal received, draining")
	graceful.SetDraining()

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(config.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Error("server shutdown error", zap.Error(err))
	}
	if err := graceful.Drain(ctx); err != nil {
		logger.Logger.Error("drain incomplete, pending accounting may be lost", zap.Error(err))
	}
	logger.Logger.Info("shutdown complete")
}

// registerBreakers sets up one circuit breaker per upstream provider plus
// one for the database and, when enabled, one for Redis. The provider
// classifier keeps sub-429 upstream answers from tripping the breaker; the
// backend classifiers ignore missing-row and missing-key answers.
func registerBreakers() {
	mirror := func(name string, _, to breaker.State) {
		monitor.SetBreakerState(name, int(to))
	}
	for _, adapter := range provider.All() {
		desc := adapter.Descriptor()
		breaker.Register(string(desc.Type), breaker.Config{
			FailureThreshold: config.BreakerFailureThreshold,
			ResetTimeout:     config.BreakerResetTimeout,
			Classifier:       forward.Countable,
			OnStateChange:    mirror,
		})
	}
	breaker.Register(model.DatabaseBreakerName, breaker.Config{
		FailureThreshold: config.BreakerFailureThreshold,
		ResetTimeout:     config.BreakerResetTimeout,
		Classifier:       model.CountableError,
		OnStateChange:    mirror,
	})
	if common.IsRedisEnabled() {
		breaker.Register(common.RedisBreakerName, breaker.Config{
			FailureThreshold: config.BreakerFailureThreshold,
			ResetTimeout:     config.BreakerResetTimeout,
			Classifier:       common.CountableRedisError,
			OnStateChange:    mirror,
		})
	}
}
