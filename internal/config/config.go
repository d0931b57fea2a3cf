package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig      `mapstructure:"http"`
	Log        LogConfig       `mapstructure:"log"`
	Auth       AuthConfig      `mapstructure:"auth"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Provider   ProviderConfig  `mapstructure:"provider"`
	Audit      AuditConfig     `mapstructure:"audit"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Sink       SinkConfig      `mapstructure:"sink"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	TrustProxy      bool          `mapstructure:"trust_proxy"` // take client ip from X-Forwarded-For
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"` // empty disables the gate
}

type RateLimitConfig struct {
	Backend       string        `mapstructure:"backend"` // memory|redis
	Capacity      int           `mapstructure:"capacity"`
	RefillPerSec  float64       `mapstructure:"refill_per_sec"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl"` // 0 = never evict
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"`
}

type ProviderConfig struct {
	Mode             string        `mapstructure:"mode"` // mock|http
	Name             string        `mapstructure:"name"`
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Breaker          BreakerConfig `mapstructure:"breaker"`
	MockMatch        bool          `mapstructure:"mock_match"`
	MockDeviceNumber string        `mapstructure:"mock_device_number"`
}

type AuditConfig struct {
	HashAlgorithm string        `mapstructure:"hash_algorithm"` // sha256|sha512
	HashKey       string        `mapstructure:"hash_key"`       // optional HMAC key
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	PublishEvents bool          `mapstructure:"publish_events"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	AuditTopic     string   `mapstructure:"audit_topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type SinkConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (NUMVERIFY_*).
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// NUMVERIFY_RATE_LIMIT_CAPACITY -> rate_limit.capacity
	v.SetEnvPrefix("NUMVERIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	if c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("rate_limit.capacity must be positive, got %d", c.RateLimit.Capacity)
	}
	if c.RateLimit.RefillPerSec <= 0 {
		return fmt.Errorf("rate_limit.refill_per_sec must be positive, got %v", c.RateLimit.RefillPerSec)
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", c.RateLimit.Backend)
	}
	switch c.Provider.Mode {
	case "mock":
	case "http":
		if strings.TrimSpace(c.Provider.BaseURL) == "" {
			return fmt.Errorf("provider.base_url is required in http mode")
		}
	default:
		return fmt.Errorf("unknown provider.mode %q", c.Provider.Mode)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}
	return nil
}
