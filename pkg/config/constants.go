package config

const EnvPrefix = "LEARNONLINE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	PaymentsDriverMock   = "mock"
	PaymentsDriverSquare = "square"
)

const (
	BrokerPubSub = "pubsub"
	BrokerKafka  = "kafka"
)

const (
	EnvAppEnv            = "LEARNONLINE_APP_ENV"
	EnvPort              = "LEARNONLINE_APP_PORT"
	EnvDBDSN             = "LEARNONLINE_DB_DSN"
	EnvDBDriver          = "LEARNONLINE_DB_DRIVER"
	EnvDBHost            = "LEARNONLINE_DB_HOST"
	EnvDBUser            = "LEARNONLINE_DB_USER"
	EnvDBName            = "LEARNONLINE_DB_NAME"
	EnvRedisURL          = "LEARNONLINE_REDIS_URL"
	EnvJWTSecret         = "LEARNONLINE_JWT_SECRET"
	EnvJWTIssuer         = "LEARNONLINE_JWT_ISSUER"
	EnvPaymentsDriver    = "LEARNONLINE_PAYMENTS_DRIVER"
	EnvPaymentsSecret    = "LEARNONLINE_PAYMENTS_WEBHOOK_SECRET"
	EnvSquareAccessToken = "LEARNONLINE_SQUARE_ACCESS_TOKEN"
	EnvSquareLocationID  = "LEARNONLINE_SQUARE_LOCATION_ID"
	EnvEventingBroker    = "LEARNONLINE_EVENTING_BROKER"
	EnvKafkaBrokers      = "LEARNONLINE_KAFKA_BROKERS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
