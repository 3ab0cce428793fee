// Package config loads the entitlement and billing core's configuration
// from environment variables (and an optional .env file) via viper.
package config

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/Shopify/sarama"
	"github.com/flexprice/flexcore/internal/validator"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Configuration is the root configuration object. Every section is
// required except the ones explicitly marked omitempty — a missing
// required section fails NewConfig loudly instead of zero-valuing silently.
type Configuration struct {
	Logging      LoggingConfig      `validate:"required"`
	Entitlement  EntitlementConfig  `validate:"required"`
	Lock         LockConfig         `validate:"required"`
	Billing      BillingConfig      `validate:"required"`
	Postgres     PostgresConfig     `validate:"required"`
	DynamoDB     DynamoDBConfig     `validate:"required"`
	ClickHouse   ClickHouseConfig   `validate:"required"`
	Kafka        KafkaConfig        `validate:"required"`
	Stripe       StripeConfig       `validate:"omitempty"`
	Secrets      SecretsConfig      `validate:"required"`
	Temporal     TemporalConfig     `validate:"omitempty"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required"`
}

// EntitlementConfig drives EntitlementService's cache-coherence protocol
// (spec.md §4.5).
type EntitlementConfig struct {
	RevalidateInterval time.Duration `mapstructure:"revalidate_interval" default:"5m"`
	SyncToDBInterval   time.Duration `mapstructure:"sync_to_db_interval" default:"1m"`
	SyncMinSpacing     time.Duration `mapstructure:"sync_min_spacing" default:"1s"`
}

// LockConfig drives SubscriptionLock and its heartbeat (spec.md §4.2, §4.6).
type LockConfig struct {
	DefaultTTL           time.Duration `mapstructure:"default_ttl" default:"30s"`
	StaleTakeoverMs       int64         `mapstructure:"stale_takeover_ms" default:"120000"`
	HeartbeatMinInterval time.Duration `mapstructure:"heartbeat_min_interval" default:"1s"`
	MaxHoldMultiplier    int           `mapstructure:"max_hold_multiplier" default:"10"`
	MaxHoldFloor         time.Duration `mapstructure:"max_hold_floor" default:"2m"`
}

// BillingConfig drives the cycle materializer and payment collector
// (spec.md §4.6.1, §4.6.4). These constants are fixed in the spec; the
// config section exists so a project can tune them without a redeploy.
type BillingConfig struct {
	MaterializationLookbackDays int `mapstructure:"materialization_lookback_days" default:"7"`
	MaterializationBatchSize    int `mapstructure:"materialization_batch_size" default:"100"`
	MaxPaymentAttempts          int `mapstructure:"max_payment_attempts" default:"10"`
	ProviderUpsertConcurrency   int `mapstructure:"provider_upsert_concurrency" default:"10"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host" validate:"required"`
	Port                   int    `mapstructure:"port" validate:"required"`
	User                   string `mapstructure:"user" validate:"required"`
	Password               string `mapstructure:"password" validate:"required"`
	DBName                 string `mapstructure:"dbname" validate:"required"`
	SSLMode                string `mapstructure:"sslmode" validate:"required"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" default:"10"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" default:"5"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes" default:"60"`
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User, c.Password, c.DBName, c.Host, c.Port, c.SSLMode,
	)
}

// DynamoDBConfig backs SubscriptionLock's conditional-write table.
type DynamoDBConfig struct {
	InUse          bool   `mapstructure:"in_use" default:"true"`
	Region         string `mapstructure:"region" validate:"required_if=InUse true"`
	LockTableName  string `mapstructure:"lock_table_name" validate:"required_if=InUse true"`
}

type ClickHouseConfig struct {
	Address  string `mapstructure:"address" validate:"required"`
	TLS      bool   `mapstructure:"tls"`
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	Database string `mapstructure:"database" validate:"required"`
}

func (c ClickHouseConfig) GetClientOptions() *clickhouse.Options {
	options := &clickhouse.Options{
		Addr: []string{c.Address},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}
	if c.TLS {
		options.TLS = &tls.Config{}
	}
	return options
}

// KafkaConfig backs the event bus between EntitlementStorage.flush and the
// Analytics adapter.
type KafkaConfig struct {
	Brokers          []string             `mapstructure:"brokers" validate:"required"`
	ConsumerGroup    string               `mapstructure:"consumer_group" validate:"required"`
	UsageTopic       string               `mapstructure:"usage_topic" validate:"required"`
	VerificationTopic string              `mapstructure:"verification_topic" validate:"required"`
	ClientID         string               `mapstructure:"client_id" validate:"required"`
	UseSASL          bool                 `mapstructure:"use_sasl"`
	TLS              bool                 `mapstructure:"tls"`
	SASLMechanism    sarama.SASLMechanism `mapstructure:"sasl_mechanism"`
	SASLUser         string               `mapstructure:"sasl_user"`
	SASLPassword     string               `mapstructure:"sasl_password"`
}

// StripeConfig resolves the concrete PaymentProvider adapter.
type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key"`
}

type SecretsConfig struct {
	EncryptionKey string `mapstructure:"encryption_key" validate:"required"`
}

// TemporalConfig drives the per-subscription billing scheduler
// (spec.md §2 data-flow row: "run by a scheduler/trigger per subscription").
type TemporalConfig struct {
	Address   string `mapstructure:"address"`
	TaskQueue string `mapstructure:"task_queue"`
	Namespace string `mapstructure:"namespace"`
	APIKey    string `mapstructure:"api_key"`
	TLS       bool   `mapstructure:"tls"`
}

// NewConfig loads .env (if present), binds FLEXCORE_-prefixed environment
// variables through viper, and validates the result. Never log.Fatal: a
// library constructor always returns its error to the caller.
func NewConfig() (*Configuration, error) {
	v := viper.New()
	_ = godotenv.Load()

	v.SetEnvPrefix("FLEXCORE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("entitlement.revalidate_interval", 5*time.Minute)
	v.SetDefault("entitlement.sync_to_db_interval", time.Minute)
	v.SetDefault("entitlement.sync_min_spacing", time.Second)
	v.SetDefault("lock.default_ttl", 30*time.Second)
	v.SetDefault("lock.stale_takeover_ms", int64(120000))
	v.SetDefault("lock.heartbeat_min_interval", time.Second)
	v.SetDefault("lock.max_hold_multiplier", 10)
	v.SetDefault("lock.max_hold_floor", 2*time.Minute)
	v.SetDefault("billing.materialization_lookback_days", 7)
	v.SetDefault("billing.materialization_batch_size", 100)
	v.SetDefault("billing.max_payment_attempts", 10)
	v.SetDefault("billing.provider_upsert_concurrency", 10)
	v.SetDefault("dynamodb.in_use", true)
}

func (c Configuration) Validate() error {
	return validator.ValidateRequest(c)
}
