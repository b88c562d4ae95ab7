package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App    AppConfig
	DB     DBConfig
	Legacy LegacyConfig
	Sync   SyncConfig
	Redis  RedisConfig
	PubSub PubSubConfig

	TriggerRateLimit TriggerRateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VETSYNC_APP_ENV" default:"dev"`
	Addr         string `envconfig:"VETSYNC_APP_ADDR" default:"127.0.0.1:8765"`
	LogLevel     string `envconfig:"VETSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VETSYNC_LOG_WARN_STACK" default:"false"`
	DeviceID     string `envconfig:"VETSYNC_DEVICE_ID"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN         string `envconfig:"VETSYNC_DB_DSN" default:"vetsync.db"`
	Driver      string `envconfig:"VETSYNC_DB_DRIVER" default:"sqlite"`
	AutoMigrate bool   `envconfig:"VETSYNC_AUTO_MIGRATE" default:"true"`

	MaxOpenConns    int           `envconfig:"VETSYNC_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"VETSYNC_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"VETSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VETSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the outbox lives in a local SQLite file.
func (d DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(d.Driver), DriverSQLite)
}

type LegacyConfig struct {
	Path       string `envconfig:"VETSYNC_LEGACY_PATH"`
	Table      string `envconfig:"VETSYNC_LEGACY_TABLE" default:"pending_operations"`
	EntityType string `envconfig:"VETSYNC_LEGACY_ENTITY_TYPE" default:"pet"`
}

// Enabled reports whether a legacy queue location was configured.
func (l LegacyConfig) Enabled() bool {
	return strings.TrimSpace(l.Path) != ""
}

type SyncConfig struct {
	ServerURL     string        `envconfig:"VETSYNC_SYNC_SERVER_URL" required:"true"`
	AuthToken     string        `envconfig:"VETSYNC_SYNC_AUTH_TOKEN"`
	HTTPTimeout   time.Duration `envconfig:"VETSYNC_SYNC_HTTP_TIMEOUT" default:"60s"`
	Debounce      time.Duration `envconfig:"VETSYNC_SYNC_DEBOUNCE" default:"1500ms"`
	Interval      time.Duration `envconfig:"VETSYNC_SYNC_INTERVAL" default:"30s"`
	MaxPages      int           `envconfig:"VETSYNC_SYNC_MAX_PAGES" default:"10"`
	PageSize      int           `envconfig:"VETSYNC_SYNC_PAGE_SIZE" default:"500"`
	MaxAttempts   int           `envconfig:"VETSYNC_SYNC_MAX_ATTEMPTS" default:"0"`
	ProbeInterval time.Duration `envconfig:"VETSYNC_SYNC_PROBE_INTERVAL" default:"0s"`
	StartOnline   bool          `envconfig:"VETSYNC_SYNC_START_ONLINE" default:"true"`
}

// TriggerRateLimitConfig bounds how often the host may force a push or pull.
type TriggerRateLimitConfig struct {
	Window time.Duration `envconfig:"VETSYNC_TRIGGER_RATE_LIMIT_WINDOW" default:"1m"`
	Limit  int           `envconfig:"VETSYNC_TRIGGER_RATE_LIMIT" default:"30"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VETSYNC_REDIS_URL"`
	LockTTL      time.Duration `envconfig:"VETSYNC_REDIS_LOCK_TTL" default:"2m"`
	PoolSize     int           `envconfig:"VETSYNC_REDIS_POOL_SIZE" default:"4"`
	DialTimeout  time.Duration `envconfig:"VETSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VETSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VETSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis server is configured for cross-process locking.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != ""
}

type PubSubConfig struct {
	ProjectID       string `envconfig:"VETSYNC_PUBSUB_PROJECT_ID"`
	AppliedTopic    string `envconfig:"VETSYNC_PUBSUB_APPLIED_TOPIC"`
	CredentialsJSON string `envconfig:"VETSYNC_PUBSUB_CREDENTIALS_JSON"`
}

// Enabled reports whether applied remote changes should be forwarded to Pub/Sub.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.ProjectID) != "" && strings.TrimSpace(p.AppliedTopic) != ""
}

func (c *Config) validate() error {
	driver := strings.ToLower(strings.TrimSpace(c.DB.Driver))
	if driver != DriverSQLite && driver != DriverPostgres {
		return fmt.Errorf("%s must be %q or %q, got %q", EnvDBDriver, DriverSQLite, DriverPostgres, c.DB.Driver)
	}
	c.DB.Driver = driver

	u, err := url.Parse(strings.TrimSpace(c.Sync.ServerURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute url, got %q", EnvSyncServerURL, c.Sync.ServerURL)
	}
	c.Sync.ServerURL = strings.TrimRight(u.String(), "/")

	if c.Sync.MaxPages <= 0 {
		return fmt.Errorf("%s must be positive", EnvSyncMaxPages)
	}
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 500 {
		return fmt.Errorf("%s must be between 1 and 500", EnvSyncPageSize)
	}
	if c.Sync.MaxAttempts < 0 {
		return fmt.Errorf("%s must not be negative", EnvSyncMaxAttempts)
	}
	return nil
}
