// Package config loads application configuration from defaults, an optional
// config file, and environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Log        LogConfig
	API        APIConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Ledger     LedgerConfig
	Payment    PaymentConfig
	Reconciler ReconcilerConfig
	Kafka      KafkaConfig
	Auth       AuthConfig
	Metrics    MetricsConfig
}

// LogConfig holds logging-related configuration
type LogConfig struct {
	Level       string
	Environment string
}

// APIConfig holds API-related configuration
type APIConfig struct {
	Port               string
	CORSAllowedOrigins []string
	VerifyRateLimit    int
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// StorageConfig selects the submission store backend
type StorageConfig struct {
	// Backend is either "redis" or "memory".
	Backend string
}

// LedgerConfig holds ledger gateway configuration
type LedgerConfig struct {
	RPCURL  string
	Timeout time.Duration
}

// PaymentConfig holds the payment terms handed to every submission
type PaymentConfig struct {
	// Address is the single operator-controlled address every submitter pays.
	Address string
	// Amount is the required payment quantity in ether.
	Amount float64
	// Capacity is the fixed ceiling on confirmable submissions.
	Capacity int64
}

// ReconcilerConfig holds background reconciler configuration
type ReconcilerConfig struct {
	Interval        time.Duration
	FreshnessWindow time.Duration
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Enabled bool
	Brokers string
	Topic   string
}

// AuthConfig holds authentication-related configuration
type AuthConfig struct {
	JWTSecret string
}

// MetricsConfig holds metrics-related configuration
type MetricsConfig struct {
	Namespace string
}

// LoadOptions controls how configuration is loaded.
type LoadOptions struct {
	// ConfigFile is an optional path to a config file (yaml/toml/json).
	ConfigFile string
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix string
	// DotEnv controls whether a .env file is loaded into the environment first.
	DotEnv bool
}

// DefaultLoadOptions returns the default load options.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		EnvPrefix: "SLOTWALL",
		DotEnv:    true,
	}
}

// Load loads configuration using the default options.
func Load() (*Config, error) {
	return LoadWithOptions(DefaultLoadOptions())
}

// LoadWithOptions loads configuration from defaults, the optional config
// file, and prefixed environment variables.
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	if opts.DotEnv {
		// Missing .env is fine; it only seeds the environment for viper.
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")

	v.SetDefault("api.port", "8080")
	v.SetDefault("api.corsallowedorigins", []string{"http://localhost:3000"})
	v.SetDefault("api.verifyratelimit", 10)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.backend", "redis")

	v.SetDefault("ledger.rpcurl", "https://ethereum-rpc.publicnode.com")
	v.SetDefault("ledger.timeout", 10*time.Second)

	v.SetDefault("payment.address", "")
	v.SetDefault("payment.amount", 0.001)
	v.SetDefault("payment.capacity", 1000)

	v.SetDefault("reconciler.interval", 30*time.Second)
	v.SetDefault("reconciler.freshnesswindow", 24*time.Hour)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "confirmed_submissions")

	v.SetDefault("auth.jwtsecret", "")

	v.SetDefault("metrics.namespace", "slotwall")
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Payment.Address == "" {
		return fmt.Errorf("payment.address must be set")
	}
	if c.Payment.Amount <= 0 {
		return fmt.Errorf("payment.amount must be positive, got %v", c.Payment.Amount)
	}
	if c.Payment.Capacity <= 0 {
		return fmt.Errorf("payment.capacity must be positive, got %d", c.Payment.Capacity)
	}
	if c.Reconciler.Interval <= 0 {
		return fmt.Errorf("reconciler.interval must be positive, got %v", c.Reconciler.Interval)
	}
	if c.Reconciler.FreshnessWindow <= 0 {
		return fmt.Errorf("reconciler.freshnesswindow must be positive, got %v", c.Reconciler.FreshnessWindow)
	}
	if c.Ledger.Timeout <= 0 {
		return fmt.Errorf("ledger.timeout must be positive, got %v", c.Ledger.Timeout)
	}
	switch c.Storage.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("storage.backend must be redis or memory, got %q", c.Storage.Backend)
	}
	return nil
}
