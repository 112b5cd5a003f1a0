package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Ingestion      IngestionConfig
	Classifier     ClassifierConfig
	RateLimit      RateLimitConfig
	Dispatch       DispatchConfig
	Failure        FailureConfig
	CircuitBreaker CircuitBreakerConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers         []string    `mapstructure:"brokers"`
	GroupID         string      `mapstructure:"group_id"`
	DispatchTopic   string      `mapstructure:"dispatch_topic"`
	CompletionTopic string      `mapstructure:"completion_topic"`
	DLQTopic        string      `mapstructure:"dlq_topic"`
	Retry           RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type IngestionConfig struct {
	// APIKeys authorizes the direct-API path. Webhook endpoints carry
	// source-specific verification upstream of this service.
	APIKeys []string `mapstructure:"api_keys"`

	IPRateLimit IPRateLimitConfig `mapstructure:"ip_rate_limit"`

	PolicyReloadSeconds int `mapstructure:"policy_reload_seconds"`
}

type IPRateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
	PerMinute       int64   `mapstructure:"per_minute"`
}

type ClassifierConfig struct {
	// DelayOverrides maps urgency ("emergency", "high", "medium",
	// "low") to an initial scheduling delay, replacing the built-in
	// table entry.
	DelayOverrides map[string]time.Duration `mapstructure:"delay_overrides"`

	// TenantDelayOverrides maps tenant id → urgency → delay.
	TenantDelayOverrides map[string]map[string]time.Duration `mapstructure:"tenant_delay_overrides"`
}

type TenantLimits struct {
	PerMinute    int64   `mapstructure:"per_minute"`
	PerHour      int64   `mapstructure:"per_hour"`
	PerDay       int64   `mapstructure:"per_day"`
	BudgetPerDay float64 `mapstructure:"budget_per_day"`
	MaxInFlight  int64   `mapstructure:"max_in_flight"`
	DispatchCost float64 `mapstructure:"dispatch_cost"`
}

type RateLimitConfig struct {
	Defaults TenantLimits            `mapstructure:"defaults"`
	Tenants  map[string]TenantLimits `mapstructure:"tenants"`
}

type DispatchConfig struct {
	// Workers is the fixed worker pool size, the primary concurrency
	// control. Sized to downstream executor capacity.
	Workers         int           `mapstructure:"workers"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
}

type FailureConfig struct {
	// MaxAttempts is the global attempt ceiling; tenants may override.
	MaxAttempts       int            `mapstructure:"max_attempts"`
	TenantMaxAttempts map[string]int `mapstructure:"tenant_max_attempts"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
