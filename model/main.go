// Package model is the persistence layer: projects, team limits, and
// execution accounting records.
package model

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/proxed/gateway/common/config"
	"github.com/proxed/gateway/common/logger"
	"github.com/proxed/gateway/relay/breaker"
)

var DB *gorm.DB

// DatabaseBreakerName keys the circuit breaker guarding storage calls.
const DatabaseBreakerName = "database"

// CountableError is the database breaker classifier. A missing row is a
// domain outcome, not a storage failure, and must not trip the breaker.
func CountableError(err error) bool {
	return !errors.Is(err, gorm.ErrRecordNotFound)
}

// guarded runs one storage operation under the database breaker when one is
// registered. While the breaker is open the call fails fast with
// breaker.ErrOpen without touching the database.
func guarded(op func() error) error {
	if br := breaker.Get(DatabaseBreakerName); br != nil {
		return br.Execute(op)
	}
	return op()
}

func chooseDB(dsn string) (*gorm.DB, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"):
		return openPostgreSQL(dsn)
	case dsn != "":
		return openMySQL(dsn)
	default:
		return openSQLite()
	}
}

func openPostgreSQL(dsn string) (*gorm.DB, error) {
	logger.Logger.Info("using PostgreSQL as database")
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true, // disables implicit prepared statement usage
	}), &gorm.Config{
		PrepareStmt: true, // precompile SQL
	})
}

func openMySQL(dsn string) (*gorm.DB, error) {
	logger.Logger.Info("using MySQL as database")
	return gorm.Open(mysql.Open(dsn), &gorm.Config{
		PrepareStmt: true, // precompile SQL
	})
}

func openSQLite() (*gorm.DB, error) {
	logger.Logger.Info("SQL_DSN not set, using SQLite as database")
	dsn := fmt.Sprintf("%s?_busy_timeout=%d", config.SQLitePath, config.SQLiteBusyTimeout)
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt: true, // precompile SQL
	})
}

// InitDB opens the primary database, configures the pool, and migrates the
// schema. It is fatal on failure: the gateway cannot authenticate projects
// without its database.
func InitDB() {
	var err error
	DB, err = chooseDB(config.SQLDSN)
	if err != nil {
		logger.Logger.Fatal("failed to initialize database", zap.Error(err))
		return
	}

	if config.DebugEnabled {
		DB = DB.Debug()
	}

	setDBConns(DB)

	if err = migrateDB(); err != nil {
		logger.Logger.Fatal("failed to migrate database", zap.Error(err))
		return
	}
	logger.Logger.Info("database schema migrated")
}

func migrateDB() error {
	var err error
	if err = DB.AutoMigrate(&Project{}); err != nil {
		return errors.Wrapf(err, "failed to migrate Project")
	}
	if err = DB.AutoMigrate(&TeamLimits{}); err != nil {
		return errors.Wrapf(err, "failed to migrate TeamLimits")
	}
	if err = DB.AutoMigrate(&Execution{}); err != nil {
		return errors.Wrapf(err, "failed to migrate Execution")
	}
	return nil
}

func setDBConns(db *gorm.DB) *sql.DB {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Logger.Fatal("failed to connect database", zap.Error(err))
		return nil
	}

	sqlDB.SetMaxIdleConns(config.SQLMaxIdleConns)
	sqlDB.SetMaxOpenConns(config.SQLMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Second * time.Duration(config.SQLMaxLifetimeSeconds))
	return sqlDB
}

// CloseDB releases the connection pool during shutdown.
func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(sqlDB.Close(), "close database")
}

// PingDB reports database reachability for health checks.
func PingDB() error {
	if DB == nil {
		return errors.New("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(sqlDB.Ping(), "ping database")
}
