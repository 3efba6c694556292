// Package config provides configuration structures and validation for the payment back-office.
// It covers the HTTP gateway, the reconciliation worker, storage backends, message queues,
// rate limiting, retry policy and the two payout provider gateways.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Webhook     WebhookConfig
	Retry       RetryConfig
	Withdrawal  WithdrawalConfig
	Providers   ProvidersConfig
	WorkerPool  WorkerPoolConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxBodyBytes    int64 // Larger request bodies are refused
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers            string
	BookingEventsTopic string // Booking lifecycle events consumed by the worker
	NotificationsTopic string // Operator notifications
	DLQTopic           string
	NumPartitions      int
	ReplicationFactor  int
	ConsumerGroup      string
	MinBytes           int
	MaxBytes           int
	MaxWait            time.Duration
	StartOffset        int64
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MigrationsPath  string
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI               string
	Database          string
	JournalCollection string
	Timeout           time.Duration
	MaxPoolSize       uint64
	MinPoolSize       uint64
	MaxConnIdleTime   time.Duration
}

// RedisConfig contains the connection used by the distributed rate limit store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitScopeConfig is the fixed-window quota of one scope
type RateLimitScopeConfig struct {
	MaxRequests int
	Window      time.Duration
}

// RateLimitConfig contains webhook intake rate limiting configuration
type RateLimitConfig struct {
	Store         string // memory or redis
	Global        RateLimitScopeConfig
	PerAddress    RateLimitScopeConfig
	PerEventKind  RateLimitScopeConfig
	SweepInterval time.Duration
}

// WebhookConfig contains inbound provider event configuration
type WebhookConfig struct {
	CardRailSecret     string
	BankRailSecret     string
	MaxAge             time.Duration // Events older than this are stale
	MaxFutureSkew      time.Duration // Events further in the future are rejected
	BloomCapacity      uint
	BloomFalsePositive float64
}

// RetryConfig contains Retry Scheduler configuration
type RetryConfig struct {
	Interval       time.Duration
	BatchSize      int
	MaxAttempts    int
	Backoff        []time.Duration // Delay before each subsequent attempt of the same event
	GracePeriod    time.Duration   // RECEIVED events younger than this belong to live intake
	Retention      time.Duration
	PurgeInterval  time.Duration
	AttemptTimeout time.Duration
}

// WithdrawalConfig contains withdrawal policy
type WithdrawalConfig struct {
	MinimumAmount   decimal.Decimal
	DefaultCurrency string
	InferMethod     bool // Accept requests without an explicit method
}

// BreakerConfig configures the circuit breaker in front of one provider
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// ProviderConfig contains one payout provider gateway's connection settings
type ProviderConfig struct {
	BaseURL   string
	APIKey    string
	ProfileID string
	Timeout   time.Duration
	Breaker   BreakerConfig
}

// ProvidersConfig groups the card rail and bank transfer rail gateways
type ProvidersConfig struct {
	CardRail     ProviderConfig
	BankTransfer ProviderConfig
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int
}

// validate performs validation of all configuration values
func (c *Config) validate() error {
	var validationErrors []string

	// Server
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		validationErrors = append(validationErrors, "SERVER_MAX_BODY_BYTES must be greater than 0")
	}

	// Kafka
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.BookingEventsTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_BOOKING_EVENTS_TOPIC is required")
	}
	if c.Kafka.NotificationsTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_NOTIFICATIONS_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// PostgreSQL
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// MongoDB
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.JournalCollection == "" {
		validationErrors = append(validationErrors, "MONGO_JOURNAL_COLLECTION is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}

	// Rate limiting
	switch c.RateLimit.Store {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			validationErrors = append(validationErrors, "REDIS_ADDR is required when RATE_LIMIT_STORE is redis")
		}
	default:
		validationErrors = append(validationErrors, "RATE_LIMIT_STORE must be memory or redis")
	}
	for name, scope := range map[string]RateLimitScopeConfig{
		"GLOBAL":      c.RateLimit.Global,
		"PER_ADDRESS": c.RateLimit.PerAddress,
		"PER_KIND":    c.RateLimit.PerEventKind,
	} {
		if scope.MaxRequests <= 0 {
			validationErrors = append(validationErrors, "RATE_LIMIT_"+name+"_MAX must be greater than 0")
		}
		if scope.Window <= 0 {
			validationErrors = append(validationErrors, "RATE_LIMIT_"+name+"_WINDOW must be greater than 0")
		}
	}
	if c.RateLimit.SweepInterval <= 0 {
		validationErrors = append(validationErrors, "RATE_LIMIT_SWEEP_INTERVAL must be greater than 0")
	}

	// Webhooks
	if c.Webhook.MaxAge <= 0 {
		validationErrors = append(validationErrors, "WEBHOOK_MAX_AGE must be greater than 0")
	}
	if c.Webhook.MaxFutureSkew <= 0 {
		validationErrors = append(validationErrors, "WEBHOOK_MAX_FUTURE_SKEW must be greater than 0")
	}
	if c.Webhook.BloomCapacity == 0 {
		validationErrors = append(validationErrors, "WEBHOOK_BLOOM_CAPACITY must be greater than 0")
	}
	if c.Webhook.BloomFalsePositive <= 0 || c.Webhook.BloomFalsePositive >= 1 {
		validationErrors = append(validationErrors, "WEBHOOK_BLOOM_FALSE_POSITIVE must be between 0 and 1")
	}

	// Retry Scheduler
	if c.Retry.Interval <= 0 {
		validationErrors = append(validationErrors, "RETRY_INTERVAL must be greater than 0")
	}
	if c.Retry.BatchSize <= 0 {
		validationErrors = append(validationErrors, "RETRY_BATCH_SIZE must be greater than 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		validationErrors = append(validationErrors, "RETRY_MAX_ATTEMPTS must be greater than 0")
	}
	if c.Retry.Retention <= 0 {
		validationErrors = append(validationErrors, "RETRY_RETENTION must be greater than 0")
	}
	if c.Retry.PurgeInterval <= 0 {
		validationErrors = append(validationErrors, "RETRY_PURGE_INTERVAL must be greater than 0")
	}

	// Withdrawals
	if !c.Withdrawal.MinimumAmount.IsPositive() {
		validationErrors = append(validationErrors, "WITHDRAWAL_MINIMUM_AMOUNT must be greater than 0")
	}
	if len(c.Withdrawal.DefaultCurrency) != 3 {
		validationErrors = append(validationErrors, "WITHDRAWAL_DEFAULT_CURRENCY must be a 3-letter code")
	}

	// Providers
	if c.Providers.CardRail.BaseURL == "" {
		validationErrors = append(validationErrors, "CARD_RAIL_BASE_URL is required")
	}
	if c.Providers.BankTransfer.BaseURL == "" {
		validationErrors = append(validationErrors, "BANK_TRANSFER_BASE_URL is required")
	}
	if c.Providers.CardRail.Timeout <= 0 || c.Providers.BankTransfer.Timeout <= 0 {
		validationErrors = append(validationErrors, "provider timeouts must be greater than 0")
	}

	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
