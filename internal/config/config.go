package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete application configuration.
type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Lock      LockConfig      `koanf:"lock"`
	Migration MigrationConfig `koanf:"migration"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// StoreConfig selects and configures the coordination store backend.
type StoreConfig struct {
	Backend  string         `koanf:"backend"` // "redis" or "postgres"
	Redis    RedisConfig    `koanf:"redis"`
	Postgres PostgresConfig `koanf:"postgres"`
}

type RedisConfig struct {
	Addr     string    `koanf:"addr"`
	Username string    `koanf:"username"`
	Password string    `koanf:"password"`
	DB       int       `koanf:"db"`
	TLS      TLSConfig `koanf:"tls"`

	// DurableAcks, when > 0, makes lease writes block until acknowledged by
	// that many replicas before an acquisition is reported as successful.
	DurableAcks int    `koanf:"durable_acks"`
	AckTimeout  string `koanf:"ack_timeout"`

	ackTimeout time.Duration
}

type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

type TLSConfig struct {
	SkipVerify bool   `koanf:"skip_verify"`
	CACert     string `koanf:"ca_cert"`
}

// LockConfig configures the single-instance execution lock.
type LockConfig struct {
	Key      string `koanf:"key"`
	Strategy string `koanf:"strategy"` // "cas" or "lease"
	TTL      string `koanf:"ttl"`      // lease expiry, e.g. "10m"

	ttl time.Duration
}

type MigrationConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Schedule string `koanf:"schedule"` // cron expression for periodic runs
	Dir      string `koanf:"dir"`      // directory of NNN_name.sql files
	DSN      string `koanf:"dsn"`      // target database the migrations apply to
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

// Load reads configuration from the given YAML file path.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LockTTL returns the parsed lease TTL.
func (c *Config) LockTTL() time.Duration {
	return c.Lock.ttl
}

// RedisAckTimeout returns the parsed replica-acknowledgement timeout.
func (c *Config) RedisAckTimeout() time.Duration {
	return c.Store.Redis.ackTimeout
}

func setDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "redis"
	}
	if cfg.Lock.Key == "" {
		cfg.Lock.Key = "solorun:migration"
	}
	if cfg.Lock.Strategy == "" {
		cfg.Lock.Strategy = "lease"
	}
	if cfg.Lock.TTL == "" {
		cfg.Lock.TTL = "10m"
	}
	if cfg.Store.Redis.AckTimeout == "" {
		cfg.Store.Redis.AckTimeout = "2s"
	}
	if cfg.Migration.Schedule == "" {
		cfg.Migration.Schedule = "0 2 * * *"
	}
	if cfg.Migration.Dir == "" {
		cfg.Migration.Dir = "./migrations"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case "redis":
		if cfg.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required")
		}
	case "postgres":
		if cfg.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("store.backend must be \"redis\" or \"postgres\", got %q", cfg.Store.Backend)
	}

	switch cfg.Lock.Strategy {
	case "cas", "lease":
	default:
		return fmt.Errorf("lock.strategy must be \"cas\" or \"lease\", got %q", cfg.Lock.Strategy)
	}

	ttl, err := time.ParseDuration(cfg.Lock.TTL)
	if err != nil {
		return fmt.Errorf("invalid lock.ttl: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("lock.ttl must be positive, got %s", cfg.Lock.TTL)
	}
	cfg.Lock.ttl = ttl

	ackTimeout, err := time.ParseDuration(cfg.Store.Redis.AckTimeout)
	if err != nil {
		return fmt.Errorf("invalid store.redis.ack_timeout: %w", err)
	}
	cfg.Store.Redis.ackTimeout = ackTimeout

	if cfg.Migration.DSN == "" {
		return fmt.Errorf("migration.dsn is required")
	}

	return nil
}
