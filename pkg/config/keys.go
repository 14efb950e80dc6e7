package config

const EnvPrefix = "EVENTRELAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	BrokerDriverPubSub = "pubsub"
	BrokerDriverKafka  = "kafka"
)

const (
	EnvAppEnv = "EVENTRELAY_APP_ENV"
	EnvPort   = "EVENTRELAY_APP_PORT"

	EnvDBDSN  = "EVENTRELAY_DB_DSN"
	EnvDBHost = "EVENTRELAY_DB_HOST"
	EnvDBUser = "EVENTRELAY_DB_USER"
	EnvDBName = "EVENTRELAY_DB_NAME"

	EnvRedisURL = "EVENTRELAY_REDIS_URL"

	EnvBrokerDriver = "EVENTRELAY_BROKER_DRIVER"
	EnvGCPProjectID = "EVENTRELAY_GCP_PROJECT_ID"
	EnvKafkaBrokers = "EVENTRELAY_KAFKA_BROKERS"

	EnvOutboxBatchSize      = "EVENTRELAY_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts    = "EVENTRELAY_OUTBOX_MAX_ATTEMPTS"
	EnvOutboxFallbackPoll   = "EVENTRELAY_OUTBOX_FALLBACK_POLL_INTERVAL"
	EnvOutboxBackoffBase    = "EVENTRELAY_OUTBOX_BACKOFF_BASE"
	EnvOutboxBackoffMax     = "EVENTRELAY_OUTBOX_BACKOFF_MAX"
	EnvOutboxClaimTTL       = "EVENTRELAY_OUTBOX_CLAIM_TTL"
	EnvOutboxPublishTimeout = "EVENTRELAY_OUTBOX_PUBLISH_TIMEOUT"

	EnvCronInterval      = "EVENTRELAY_CRON_INTERVAL"
	EnvCronLockTTL       = "EVENTRELAY_CRON_LOCK_TTL"
	EnvCronJobTimeout    = "EVENTRELAY_CRON_JOB_TIMEOUT"
	EnvCronRetentionDays = "EVENTRELAY_CRON_OUTBOX_RETENTION_DAYS"
)

var dbFieldEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
