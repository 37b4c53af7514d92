// Package datastore opens and prepares the relational store behind the
// ledger. The connection handle is created here and passed explicitly to the
// stores that need it; its lifetime is owned by the caller.
package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/flowops/workflow-ledger/pkg/locking"
)

// Supported database types.
const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
)

// Config selects and tunes the database connection.
type Config struct {
	// Type is one of postgres, mysql, or sqlite.
	Type string
	// DSN is the driver connection string. For sqlite it is the database
	// file path, or ":memory:" for an in-memory database.
	DSN string
	// MaxOpenConns bounds the connection pool. Zero means the driver
	// default. SQLite in-memory databases are forced to a single connection
	// regardless, since each pooled connection would otherwise see its own
	// empty database.
	MaxOpenConns int
	// LogQueries enables GORM statement logging at warn level (slow queries
	// and errors). Off by default; statements can carry payload contents.
	LogQueries bool
	// Logger receives connection lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Connect opens the configured database and returns a GORM handle with error
// translation enabled, so uniqueness conflicts surface as
// gorm.ErrDuplicatedKey across dialects that support it.
func Connect(cfg Config) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case TypePostgres:
		dialector = postgres.Open(cfg.DSN)
	case TypeMySQL:
		dialector = mysql.Open(cfg.DSN)
	case TypeSQLite, "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected postgres, mysql, or sqlite)", cfg.Type)
	}

	logMode := gormlogger.Silent
	if cfg.LogQueries {
		logMode = gormlogger.Warn
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logMode),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if (cfg.Type == TypeSQLite || cfg.Type == "") && cfg.DSN == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	logger.Info("connected to database", "type", dialector.Name())
	return db, nil
}

// Migrate runs migrate while holding the cross-replica migration lock, so
// concurrent replicas starting at once do not race on schema changes.
func Migrate(ctx context.Context, db *gorm.DB, migrate func() error) error {
	return locking.NewMigrationLocker(db).WithLock(ctx, migrate)
}
