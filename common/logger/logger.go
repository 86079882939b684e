package logger

import (
	"fmt"
	"os"
	"sync"

	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"

	"github.com/proxed/gateway/common/config"
)

var (
	Logger      glog.Logger
	initLogOnce sync.Once
)

// init initializes the logger automatically when the package is imported
func init() {
	initLogger()
}

// initLogger initializes the go-utils logger
func initLogger() {
	initLogOnce.Do(func() {
		var err error
		level := glog.LevelInfo
		if config.DebugEnabled {
			level = glog.LevelDebug
		}

		Logger, err = glog.NewConsoleWithName("proxed-gateway", level)
		if err != nil {
			panic(fmt.Sprintf("failed to create logger: %+v", err))
		}
	})
}

// Setup attaches hostname context and aligns the log level with the
// configured debug mode.
func Setup() {
	hostname, err := os.Hostname()
	if err != nil {
		Logger.Panic("get hostname", zap.Error(err))
	}
	Logger = Logger.With(zap.String("host", hostname))

	if config.DebugEnabled {
		_ = Logger.ChangeLevel("debug")
		Logger.Info("running in debug mode")
	}
}
