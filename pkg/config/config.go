package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix scopes every environment variable read by Load.
const EnvPrefix = "BILLFLOW"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Billing      BillingConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Billing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BILLFLOW_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"BILLFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BILLFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BILLFLOW_SERVICE_KIND" default:"cron-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"BILLFLOW_DB_DSN"`
	Driver string `envconfig:"BILLFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BILLFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"BILLFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BILLFLOW_DB_USER"`
	LegacyPassword string `envconfig:"BILLFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"BILLFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"BILLFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILLFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILLFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILLFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILLFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.LegacyHost == "" || d.LegacyUser == "" || d.LegacyName == "" {
		return fmt.Errorf("either BILLFLOW_DB_DSN or host/user/name parts are required")
	}
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.LegacyUser, d.LegacyPassword),
		Host:   fmt.Sprintf("%s:%d", d.LegacyHost, d.LegacyPort),
		Path:   d.LegacyName,
	}
	query := dsn.Query()
	query.Set("sslmode", d.LegacySSLMode)
	dsn.RawQuery = query.Encode()
	d.DSN = dsn.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"BILLFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BILLFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"BILLFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILLFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILLFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILLFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILLFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILLFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILLFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// BillingConfig carries the engine's tunable knobs.
type BillingConfig struct {
	Livemode           bool          `envconfig:"BILLFLOW_BILLING_LIVEMODE" default:"false"`
	MaxRetryAttempts   int           `envconfig:"BILLFLOW_BILLING_MAX_RETRY_ATTEMPTS" default:"4"`
	RetryBackoff       time.Duration `envconfig:"BILLFLOW_BILLING_RETRY_BACKOFF" default:"24h"`
	SchedulerLookahead time.Duration `envconfig:"BILLFLOW_BILLING_SCHEDULER_LOOKAHEAD" default:"1h"`
	SweepBatchLimit    int           `envconfig:"BILLFLOW_BILLING_SWEEP_BATCH_LIMIT" default:"250"`
	DefaultTrialDays   int           `envconfig:"BILLFLOW_BILLING_DEFAULT_TRIAL_DAYS" default:"0"`
}

func (b BillingConfig) validate() error {
	if b.MaxRetryAttempts < 1 {
		return fmt.Errorf("BILLFLOW_BILLING_MAX_RETRY_ATTEMPTS must be at least 1")
	}
	if b.SchedulerLookahead <= 0 {
		return fmt.Errorf("BILLFLOW_BILLING_SCHEDULER_LOOKAHEAD must be positive")
	}
	return nil
}

type CronConfig struct {
	Interval time.Duration `envconfig:"BILLFLOW_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"BILLFLOW_CRON_LOCK_TTL" default:"10m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BILLFLOW_FEATURE_AUTO_MIGRATE" default:"false"`
}
