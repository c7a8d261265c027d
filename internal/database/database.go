package database

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/librarian/internal/config"
	"github.com/mrlokans/librarian/internal/entities"
)

// sqliteParams make concurrent writers wait on the database lock instead of
// failing with SQLITE_BUSY, and start write transactions with BEGIN IMMEDIATE.
const sqliteParams = "_busy_timeout=5000&_txlock=immediate"

// latePenaltyIndex backs the one-late-penalty-per-loan rule at the storage level.
const latePenaltyIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_penalties_late_loan
	ON penalties (loan_record_id) WHERE reason = 'late'`

type Database struct {
	DB     *gorm.DB
	Driver config.DatabaseDriver
}

func NewDatabase(cfg config.Database) (*Database, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(parseLogLevel(cfg.LogLevel)),
	}

	var db *gorm.DB
	connect := func() error {
		conn, err := gorm.Open(dialector(cfg), gormConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := sqlDB.Ping(); err != nil {
			sqlDB.Close()
			return fmt.Errorf("database ping failed: %w", err)
		}
		db = conn
		return nil
	}

	retryConfig := backoff.NewExponentialBackOff()
	retryConfig.MaxElapsedTime = cfg.ConnectTimeout
	if retryConfig.MaxElapsedTime <= 0 {
		retryConfig.MaxElapsedTime = 30 * time.Second
	}

	err := backoff.RetryNotify(connect, retryConfig, func(err error, next time.Duration) {
		log.Printf("Database not ready, retrying in %s: %v", next.Round(time.Millisecond), err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after retries: %w", err)
	}

	if cfg.Driver == config.DatabaseDriverSQLite || cfg.Driver == "" {
		// One writer at a time; goroutines queue in database/sql instead of
		// racing for the SQLite file lock.
		sqlDB, _ := db.DB()
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Printf("Database initialized successfully (%s)", describe(cfg))

	return &Database{DB: db, Driver: cfg.Driver}, nil
}

// Migrate creates or updates every table plus the indexes AutoMigrate cannot
// express.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&entities.User{},
		&entities.Book{},
		&entities.LoanRecord{},
		&entities.Penalty{},
		&entities.Notification{},
		&entities.ReconciliationRun{},
		&entities.AuditEvent{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := db.Exec(latePenaltyIndex).Error; err != nil {
		return fmt.Errorf("failed to create late penalty index: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dialector(cfg config.Database) gorm.Dialector {
	if cfg.Driver == config.DatabaseDriverPostgres {
		return postgres.Open(cfg.DSN)
	}
	return sqlite.Open(sqliteDSN(cfg.Path))
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqliteParams
	}
	return path + "?" + sqliteParams
}

func describe(cfg config.Database) string {
	if cfg.Driver == config.DatabaseDriverPostgres {
		return "postgres"
	}
	return "sqlite at " + cfg.Path
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
