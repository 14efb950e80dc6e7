package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Broker       BrokerConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Broker.validate(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Cron.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"EVENTRELAY_APP_ENV" required:"true"`
	Port         string   `envconfig:"EVENTRELAY_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"EVENTRELAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"EVENTRELAY_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"EVENTRELAY_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"EVENTRELAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"EVENTRELAY_DB_DSN"`
	Driver string `envconfig:"EVENTRELAY_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"EVENTRELAY_DB_HOST"`
	Port     int    `envconfig:"EVENTRELAY_DB_PORT" default:"5432"`
	User     string `envconfig:"EVENTRELAY_DB_USER"`
	Password string `envconfig:"EVENTRELAY_DB_PASSWORD"`
	Name     string `envconfig:"EVENTRELAY_DB_NAME"`
	SSLMode  string `envconfig:"EVENTRELAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EVENTRELAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EVENTRELAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EVENTRELAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EVENTRELAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"EVENTRELAY_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"EVENTRELAY_REDIS_URL"`
	Address      string        `envconfig:"EVENTRELAY_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"EVENTRELAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"EVENTRELAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EVENTRELAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EVENTRELAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EVENTRELAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EVENTRELAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EVENTRELAY_REDIS_WRITE_TIMEOUT" default:"5s"`
	// KeyPrefix namespaces every key and channel so environments can share
	// one Redis.
	KeyPrefix string `envconfig:"EVENTRELAY_REDIS_KEY_PREFIX" default:"er"`
}

type FeatureFlagsConfig struct {
	AutoMigrate      bool `envconfig:"EVENTRELAY_AUTO_MIGRATE" default:"false"`
	EmbeddedOutbox   bool `envconfig:"EVENTRELAY_OUTBOX_EMBEDDED_PUBLISHER" default:"true"`
	NotifyRedisRelay bool `envconfig:"EVENTRELAY_OUTBOX_REDIS_RELAY" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"EVENTRELAY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	ConsumerName   string        `envconfig:"EVENTRELAY_EVENTING_CONSUMER_NAME" default:"intelligence-workers"`
	// StartupWait bounds how long a worker re-probes its dependencies
	// before giving up.
	StartupWait time.Duration `envconfig:"EVENTRELAY_EVENTING_STARTUP_WAIT" default:"30s"`
}

type BrokerConfig struct {
	Driver string `envconfig:"EVENTRELAY_BROKER_DRIVER" default:"pubsub"`
}

func (b BrokerConfig) validate(cfg Config) error {
	switch strings.ToLower(b.Driver) {
	case BrokerDriverPubSub:
		if cfg.GCP.ProjectID == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvGCPProjectID, EnvBrokerDriver, BrokerDriverPubSub)
		}
	case BrokerDriverKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("%s is required when %s=%s", EnvKafkaBrokers, EnvBrokerDriver, BrokerDriverKafka)
		}
	default:
		return fmt.Errorf("%s must be one of %s|%s, got %q", EnvBrokerDriver, BrokerDriverPubSub, BrokerDriverKafka, b.Driver)
	}
	return nil
}

type GCPConfig struct {
	ProjectID              string `envconfig:"EVENTRELAY_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"EVENTRELAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EnrichmentSubscription string `envconfig:"EVENTRELAY_PUBSUB_ENRICHMENT_SUBSCRIPTION" default:"intelligence-workers"`
	MaxOutstanding         int    `envconfig:"EVENTRELAY_PUBSUB_MAX_OUTSTANDING" default:"100"`
	// Endpoint overrides the API host, e.g. a regional endpoint.
	Endpoint string `envconfig:"EVENTRELAY_PUBSUB_ENDPOINT"`
}

type KafkaConfig struct {
	Brokers       []string `envconfig:"EVENTRELAY_KAFKA_BROKERS"`
	ClientID      string   `envconfig:"EVENTRELAY_KAFKA_CLIENT_ID" default:"eventrelay"`
	Version       string   `envconfig:"EVENTRELAY_KAFKA_VERSION" default:"3.6.0"`
	Idempotent    bool     `envconfig:"EVENTRELAY_KAFKA_IDEMPOTENT" default:"false"`
	ConsumerGroup string   `envconfig:"EVENTRELAY_KAFKA_CONSUMER_GROUP" default:"intelligence-workers"`
	Topics        []string `envconfig:"EVENTRELAY_KAFKA_TOPICS" default:"expert.decisions.v1,heuristic.telemetry.v1,historic.deliveries.v1"`
}

type OutboxConfig struct {
	BatchSize            int           `envconfig:"EVENTRELAY_OUTBOX_BATCH_SIZE" default:"50"`
	FallbackPollInterval time.Duration `envconfig:"EVENTRELAY_OUTBOX_FALLBACK_POLL_INTERVAL" default:"5s"`
	MaxAttempts          int           `envconfig:"EVENTRELAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	MaxPayloadBytes      int           `envconfig:"EVENTRELAY_OUTBOX_MAX_PAYLOAD_BYTES" default:"1048576"`
	BackoffBase          time.Duration `envconfig:"EVENTRELAY_OUTBOX_BACKOFF_BASE" default:"1s"`
	BackoffMax           time.Duration `envconfig:"EVENTRELAY_OUTBOX_BACKOFF_MAX" default:"5m"`
	ClaimTTL             time.Duration `envconfig:"EVENTRELAY_OUTBOX_CLAIM_TTL" default:"1m"`
	PublishTimeout       time.Duration `envconfig:"EVENTRELAY_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	NotifyChannel        string        `envconfig:"EVENTRELAY_OUTBOX_NOTIFY_CHANNEL" default:"outbox:notify"`
}

func (o OutboxConfig) validate() error {
	if o.BatchSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvOutboxBatchSize)
	}
	if o.MaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvOutboxMaxAttempts)
	}
	if o.FallbackPollInterval <= 0 {
		return fmt.Errorf("%s must be positive", EnvOutboxFallbackPoll)
	}
	if o.BackoffBase <= 0 || o.BackoffMax < o.BackoffBase {
		return fmt.Errorf("%s must be positive and not exceed %s", EnvOutboxBackoffBase, EnvOutboxBackoffMax)
	}
	// a lease shorter than one publish lets a second instance reclaim an in-flight record
	if o.ClaimTTL <= o.PublishTimeout {
		return fmt.Errorf("%s must exceed %s", EnvOutboxClaimTTL, EnvOutboxPublishTimeout)
	}
	return nil
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"EVENTRELAY_CRON_INTERVAL" default:"1m"`
	LockTTL             time.Duration `envconfig:"EVENTRELAY_CRON_LOCK_TTL" default:"5m"`
	OutboxRetentionDays int           `envconfig:"EVENTRELAY_CRON_OUTBOX_RETENTION_DAYS" default:"14"`
	JobTimeout          time.Duration `envconfig:"EVENTRELAY_CRON_JOB_TIMEOUT" default:"30s"`
	RetentionBatchSize  int           `envconfig:"EVENTRELAY_CRON_RETENTION_BATCH_SIZE" default:"1000"`
}

// validate keeps a single job inside the lock lease so a slow job cannot let
// a second replica start an overlapping cycle.
func (c CronConfig) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%s must be positive", EnvCronInterval)
	}
	if c.JobTimeout <= 0 || c.JobTimeout >= c.LockTTL {
		return fmt.Errorf("%s must be positive and below %s", EnvCronJobTimeout, EnvCronLockTTL)
	}
	if c.OutboxRetentionDays <= 0 {
		return fmt.Errorf("%s must be positive", EnvCronRetentionDays)
	}
	return nil
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbFieldEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
