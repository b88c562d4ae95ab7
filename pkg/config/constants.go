package config

const (
	EnvPrefix = "VETSYNC"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	EnvAppEnv       = "VETSYNC_APP_ENV"
	EnvAppAddr      = "VETSYNC_APP_ADDR"
	EnvLogLevel     = "VETSYNC_LOG_LEVEL"
	EnvLogWarnStack = "VETSYNC_LOG_WARN_STACK"
	EnvDeviceID     = "VETSYNC_DEVICE_ID"

	EnvDBDSN         = "VETSYNC_DB_DSN"
	EnvDBDriver      = "VETSYNC_DB_DRIVER"
	EnvDBAutoMigrate = "VETSYNC_AUTO_MIGRATE"

	EnvLegacyPath       = "VETSYNC_LEGACY_PATH"
	EnvLegacyTable      = "VETSYNC_LEGACY_TABLE"
	EnvLegacyEntityType = "VETSYNC_LEGACY_ENTITY_TYPE"

	EnvSyncServerURL     = "VETSYNC_SYNC_SERVER_URL"
	EnvSyncAuthToken     = "VETSYNC_SYNC_AUTH_TOKEN"
	EnvSyncHTTPTimeout   = "VETSYNC_SYNC_HTTP_TIMEOUT"
	EnvSyncDebounce      = "VETSYNC_SYNC_DEBOUNCE"
	EnvSyncInterval      = "VETSYNC_SYNC_INTERVAL"
	EnvSyncMaxPages      = "VETSYNC_SYNC_MAX_PAGES"
	EnvSyncPageSize      = "VETSYNC_SYNC_PAGE_SIZE"
	EnvSyncMaxAttempts   = "VETSYNC_SYNC_MAX_ATTEMPTS"
	EnvSyncProbeInterval = "VETSYNC_SYNC_PROBE_INTERVAL"
	EnvSyncStartOnline   = "VETSYNC_SYNC_START_ONLINE"

	EnvRedisURL     = "VETSYNC_REDIS_URL"
	EnvRedisLockTTL = "VETSYNC_REDIS_LOCK_TTL"

	EnvPubSubProjectID    = "VETSYNC_PUBSUB_PROJECT_ID"
	EnvPubSubAppliedTopic = "VETSYNC_PUBSUB_APPLIED_TOPIC"
	EnvPubSubCredentials  = "VETSYNC_PUBSUB_CREDENTIALS_JSON"

	EnvTriggerRateLimitWindow = "VETSYNC_TRIGGER_RATE_LIMIT_WINDOW"
	EnvTriggerRateLimit       = "VETSYNC_TRIGGER_RATE_LIMIT"
)
