package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type AuthMode string

const (
	AuthModeNone  AuthMode = "none"  // No authentication, every request acts as the bootstrap admin
	AuthModeLocal AuthMode = "local" // Local user database with sessions and API tokens
)

type DatabaseDriver string

const (
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Circulation
		Reconciliation
		Mail
		Audit
		Tasks
		Auth
	}

	HTTP struct {
		Port int32  `validate:"gte=0,lte=65535"`
		Host string
	}
	Global struct {
		ShutdownTimeoutInSeconds int `validate:"gte=0"`
	}
	Database struct {
		Driver         DatabaseDriver `validate:"oneof=sqlite postgres"`
		Path           string         `validate:"required_if=Driver sqlite"`
		DSN            string         `validate:"required_if=Driver postgres"`
		ConnectTimeout time.Duration
		LogLevel       string `validate:"oneof=silent error warn info"`
	}
	Circulation struct {
		LoanPeriod    time.Duration `validate:"gt=0"`
		DueSoonWindow time.Duration `validate:"gt=0"`
		PenaltyPerDay int64         `validate:"gte=0"`
	}
	Reconciliation struct {
		Enabled       bool
		Schedule      string // Cron format: "0 0 * * *" = daily at midnight
		RetryAttempts uint   `validate:"gte=1,lte=10"`
		RetryDelay    time.Duration
		RunRetention  time.Duration // How long finished run summaries are kept
		StaleRunAfter time.Duration `validate:"gt=0"` // A run still "running" this long is abandoned
	}
	Mail struct {
		WebhookURL     string        `validate:"omitempty,url"` // Empty means deliveries are only logged
		Timeout        time.Duration // Per request
		DeliveryBudget time.Duration // Total mailing time per reconciliation run; the rest stays in the outbox
	}
	Audit struct {
		RetentionDays int `validate:"gte=0"` // Days to keep audit events
	}
	Tasks struct {
		Enabled           bool
		Workers           int `validate:"gte=0"`
		MaxRetries        int `validate:"gte=0"`
		RetryDelay        time.Duration
		TaskTimeout       time.Duration
		ReleaseAfter      time.Duration
		CleanupInterval   time.Duration
		RetentionDuration time.Duration
	}
	Auth struct {
		Mode            AuthMode `validate:"oneof=none local"`
		SessionSecret   string
		SessionLifetime time.Duration
		TokenExpiry     time.Duration
		BcryptCost      int  `validate:"gte=4,lte=31"`
		SecureCookies   bool // Set to false for local dev without HTTPS

		MaxLoginAttempts int
		LockoutDuration  time.Duration
	}
)

var validate = validator.New()

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8190)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 5)

	v.SetDefault("database_driver", string(DatabaseDriverSQLite))
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("database_dsn", "")
	v.SetDefault("database_connect_timeout", "30s")
	v.SetDefault("database_log_level", "warn")

	// Circulation policy
	v.SetDefault("loan_period", DefaultLoanPeriod.String())
	v.SetDefault("due_soon_window", DefaultDueSoonWindow.String())
	v.SetDefault("penalty_per_day", DefaultPenaltyPerDay)

	// Reconciliation defaults
	v.SetDefault("reconcile_enabled", true)
	v.SetDefault("reconcile_schedule", DefaultReconcileSchedule)
	v.SetDefault("reconcile_retry_attempts", 3)
	v.SetDefault("reconcile_retry_delay", "200ms")
	v.SetDefault("reconcile_run_retention", "720h")
	v.SetDefault("reconcile_stale_run_after", "6h")

	v.SetDefault("mail_webhook_url", "")
	v.SetDefault("mail_timeout", "10s")
	v.SetDefault("mail_delivery_budget", "2m")

	v.SetDefault("audit_retention_days", 90)

	// Auth defaults
	v.SetDefault("auth_mode", "none")
	v.SetDefault("auth_session_secret", "")      // Auto-generated if empty
	v.SetDefault("auth_session_lifetime", "24h") // 24 hours
	v.SetDefault("auth_token_expiry", "720h")    // 30 days
	v.SetDefault("auth_bcrypt_cost", 12)
	v.SetDefault("auth_secure_cookies", true)
	v.SetDefault("auth_max_login_attempts", 5)
	v.SetDefault("auth_lockout_duration", "30m")

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_max_retries", 3)
	v.SetDefault("task_retry_delay", "1m")
	v.SetDefault("task_timeout", "5m")
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")
	v.SetDefault("task_retention_duration", "24h")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Driver:         DatabaseDriver(v.GetString("DATABASE_DRIVER")),
			Path:           v.GetString("DATABASE_PATH"),
			DSN:            v.GetString("DATABASE_DSN"),
			ConnectTimeout: v.GetDuration("DATABASE_CONNECT_TIMEOUT"),
			LogLevel:       v.GetString("DATABASE_LOG_LEVEL"),
		},
		Circulation: Circulation{
			LoanPeriod:    v.GetDuration("LOAN_PERIOD"),
			DueSoonWindow: v.GetDuration("DUE_SOON_WINDOW"),
			PenaltyPerDay: v.GetInt64("PENALTY_PER_DAY"),
		},
		Reconciliation: Reconciliation{
			Enabled:       v.GetBool("RECONCILE_ENABLED"),
			Schedule:      v.GetString("RECONCILE_SCHEDULE"),
			RetryAttempts: v.GetUint("RECONCILE_RETRY_ATTEMPTS"),
			RetryDelay:    v.GetDuration("RECONCILE_RETRY_DELAY"),
			RunRetention:  v.GetDuration("RECONCILE_RUN_RETENTION"),
			StaleRunAfter: v.GetDuration("RECONCILE_STALE_RUN_AFTER"),
		},
		Mail: Mail{
			WebhookURL:     v.GetString("MAIL_WEBHOOK_URL"),
			Timeout:        v.GetDuration("MAIL_TIMEOUT"),
			DeliveryBudget: v.GetDuration("MAIL_DELIVERY_BUDGET"),
		},
		Audit: Audit{
			RetentionDays: v.GetInt("AUDIT_RETENTION_DAYS"),
		},
		Tasks: Tasks{
			Enabled:           v.GetBool("TASKS_ENABLED"),
			Workers:           v.GetInt("TASK_WORKERS"),
			MaxRetries:        v.GetInt("TASK_MAX_RETRIES"),
			RetryDelay:        v.GetDuration("TASK_RETRY_DELAY"),
			TaskTimeout:       v.GetDuration("TASK_TIMEOUT"),
			ReleaseAfter:      v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval:   v.GetDuration("TASK_CLEANUP_INTERVAL"),
			RetentionDuration: v.GetDuration("TASK_RETENTION_DURATION"),
		},
		Auth: Auth{
			Mode:             AuthMode(v.GetString("AUTH_MODE")),
			SessionSecret:    v.GetString("AUTH_SESSION_SECRET"),
			SessionLifetime:  v.GetDuration("AUTH_SESSION_LIFETIME"),
			TokenExpiry:      v.GetDuration("AUTH_TOKEN_EXPIRY"),
			BcryptCost:       v.GetInt("AUTH_BCRYPT_COST"),
			SecureCookies:    v.GetBool("AUTH_SECURE_COOKIES"),
			MaxLoginAttempts: v.GetInt("AUTH_MAX_LOGIN_ATTEMPTS"),
			LockoutDuration:  v.GetDuration("AUTH_LOCKOUT_DURATION"),
		},
	}
}

// Validate checks field constraints and the reconciliation cron expression.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Reconciliation.Enabled {
		if _, err := cron.ParseStandard(c.Reconciliation.Schedule); err != nil {
			return fmt.Errorf("invalid RECONCILE_SCHEDULE %q: %w", c.Reconciliation.Schedule, err)
		}
	}
	return nil
}
