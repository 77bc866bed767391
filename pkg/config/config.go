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
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Payments     PaymentsConfig
	Square       SquareConfig
	Eventing     EventingConfig
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that only become required in combination.
func (c *Config) Validate() error {
	driver := c.Payments.NormalizedDriver()
	switch driver {
	case PaymentsDriverMock:
	case PaymentsDriverSquare:
		if c.Square.AccessToken == "" || c.Square.LocationID == "" {
			return fmt.Errorf("%s and %s are required when %s=%s", EnvSquareAccessToken, EnvSquareLocationID, EnvPaymentsDriver, driver)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvPaymentsDriver, c.Payments.Driver)
	}

	switch c.Eventing.NormalizedBroker() {
	case BrokerPubSub:
	case BrokerKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("%s is required when %s=%s", EnvKafkaBrokers, EnvEventingBroker, BrokerKafka)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvEventingBroker, c.Eventing.Broker)
	}
	return nil
}

type AppConfig struct {
	Env          string   `envconfig:"LEARNONLINE_APP_ENV" required:"true"`
	Port         string   `envconfig:"LEARNONLINE_APP_PORT" required:"true"`
	BaseURL      string   `envconfig:"LEARNONLINE_APP_BASE_URL" default:""`
	CORSOrigins  []string `envconfig:"LEARNONLINE_CORS_ORIGINS" default:"http://localhost:3000"`
	LogLevel     string   `envconfig:"LEARNONLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"LEARNONLINE_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"LEARNONLINE_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LEARNONLINE_SERVICE_KIND" default:"api"`
	// MetricsAddr is where background workers expose /metrics; empty disables it.
	MetricsAddr string `envconfig:"LEARNONLINE_METRICS_ADDR" default:""`
}

type DBConfig struct {
	DSN    string `envconfig:"LEARNONLINE_DB_DSN"`
	Driver string `envconfig:"LEARNONLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LEARNONLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"LEARNONLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LEARNONLINE_DB_USER"`
	LegacyPassword string `envconfig:"LEARNONLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"LEARNONLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"LEARNONLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LEARNONLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEARNONLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEARNONLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEARNONLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this at warn; 0 disables.
	SlowQueryThreshold time.Duration `envconfig:"LEARNONLINE_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

// IsSQLite reports whether the SQLite driver was selected (local runs and tests).
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"LEARNONLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LEARNONLINE_REDIS_ADDR"`
	Password     string        `envconfig:"LEARNONLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEARNONLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEARNONLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEARNONLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEARNONLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEARNONLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEARNONLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"LEARNONLINE_REDIS_KEY_PREFIX" default:"lo"`
}

type JWTConfig struct {
	Secret            string        `envconfig:"LEARNONLINE_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"LEARNONLINE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int           `envconfig:"LEARNONLINE_JWT_EXPIRATION_MINUTES" default:"60"`
	Leeway            time.Duration `envconfig:"LEARNONLINE_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LEARNONLINE_AUTO_MIGRATE" default:"false"`
}

type PaymentsConfig struct {
	Driver           string        `envconfig:"LEARNONLINE_PAYMENTS_DRIVER" default:"mock"`
	WebhookSecret    string        `envconfig:"LEARNONLINE_PAYMENTS_WEBHOOK_SECRET" default:"dev_secret"`
	Currency         string        `envconfig:"LEARNONLINE_PAYMENTS_CURRENCY" default:"USD"`
	GatewayTimeout   time.Duration `envconfig:"LEARNONLINE_PAYMENTS_GATEWAY_TIMEOUT" default:"15s"`
	WebhookReplayTTL time.Duration `envconfig:"LEARNONLINE_PAYMENTS_WEBHOOK_REPLAY_TTL" default:"24h"`
	RefundRequestTTL time.Duration `envconfig:"LEARNONLINE_PAYMENTS_REFUND_IDEMPOTENCY_TTL" default:"24h"`
	RateLimitWindow  time.Duration `envconfig:"LEARNONLINE_PAYMENTS_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitPerIP   int           `envconfig:"LEARNONLINE_PAYMENTS_RATE_LIMIT_PER_IP" default:"30"`
	RateLimitPerUser int           `envconfig:"LEARNONLINE_PAYMENTS_RATE_LIMIT_PER_USER" default:"10"`
	PendingExpiry    time.Duration `envconfig:"LEARNONLINE_PAYMENTS_PENDING_EXPIRY" default:"72h"`
}

// NormalizedDriver returns the lower-cased gateway driver name, defaulting to mock.
func (p PaymentsConfig) NormalizedDriver() string {
	driver := strings.ToLower(strings.TrimSpace(p.Driver))
	if driver == "" {
		return PaymentsDriverMock
	}
	return driver
}

type SquareConfig struct {
	Env         string `envconfig:"LEARNONLINE_SQUARE_ENV" default:"sandbox"`
	AccessToken string `envconfig:"LEARNONLINE_SQUARE_ACCESS_TOKEN"`
	LocationID  string `envconfig:"LEARNONLINE_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type EventingConfig struct {
	Broker               string        `envconfig:"LEARNONLINE_EVENTING_BROKER" default:"pubsub"`
	OutboxIdempotencyTTL time.Duration `envconfig:"LEARNONLINE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

// NormalizedBroker returns the lower-cased broker name, defaulting to pubsub.
func (e EventingConfig) NormalizedBroker() string {
	broker := strings.ToLower(strings.TrimSpace(e.Broker))
	if broker == "" {
		return BrokerPubSub
	}
	return broker
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LEARNONLINE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LEARNONLINE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LEARNONLINE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PaymentsTopic            string `envconfig:"LEARNONLINE_PUBSUB_PAYMENTS_TOPIC" default:"learnonline-payment-events"`
	CertificatesSubscription string `envconfig:"LEARNONLINE_PUBSUB_CERTIFICATES_SUBSCRIPTION" default:"learnonline-certificate-issuer"`
	EmulatorHost             string `envconfig:"LEARNONLINE_PUBSUB_EMULATOR_HOST"`
}

type KafkaConfig struct {
	Brokers       []string `envconfig:"LEARNONLINE_KAFKA_BROKERS"`
	PaymentsTopic string   `envconfig:"LEARNONLINE_KAFKA_PAYMENTS_TOPIC" default:"learnonline.payment-events"`
	GroupID       string   `envconfig:"LEARNONLINE_KAFKA_GROUP_ID" default:"learnonline-certificate-issuer"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LEARNONLINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LEARNONLINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LEARNONLINE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"LEARNONLINE_CRON_INTERVAL" default:"1h"`
	LockTTL             time.Duration `envconfig:"LEARNONLINE_CRON_LOCK_TTL" default:"55m"`
	BatchSize           int           `envconfig:"LEARNONLINE_CRON_BATCH_SIZE" default:"200"`
	OutboxRetentionDays int           `envconfig:"LEARNONLINE_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:learnonline.db?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
