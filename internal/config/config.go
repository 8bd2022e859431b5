package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	BaseURL      string        `yaml:"base_url"` // public base URL used in gateway return links
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CheckoutConfig struct {
	AuthorizationTimeout time.Duration `yaml:"authorization_timeout"` // per gateway call
	AuthorizationRetries int           `yaml:"authorization_retries"` // transport errors only
	ConfirmationTimeout  time.Duration `yaml:"confirmation_timeout"`  // pending -> failed cutoff
	PollIntervalSeconds  int           `yaml:"poll_interval_seconds"`
	PollMaxRefreshes     int           `yaml:"poll_max_refreshes"`
}

type SecurityConfig struct {
	TokenSecret    string        `yaml:"token_secret"`     // signs checkout tokens
	TokenTTL       time.Duration `yaml:"token_ttl"`        // checkout token lifetime
	AdminSecret    string        `yaml:"admin_secret"`     // signs admin session tokens
	CredentialsKey string        `yaml:"credentials_key"`  // 32-byte AES key sealing gateway credentials at rest
}

type SchedulerConfig struct {
	SweepInterval  time.Duration `yaml:"sweep_interval"`  // pending-confirmation timeout sweep
	ExpiryInterval time.Duration `yaml:"expiry_interval"` // active -> expired sweep
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Checkout  CheckoutConfig  `yaml:"checkout"`
	Security  SecurityConfig  `yaml:"security"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 20 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.Checkout.AuthorizationTimeout <= 0 {
		cfg.Checkout.AuthorizationTimeout = 15 * time.Second
	}
	if cfg.Checkout.AuthorizationRetries < 0 {
		cfg.Checkout.AuthorizationRetries = 2
	}
	if cfg.Checkout.ConfirmationTimeout <= 0 {
		cfg.Checkout.ConfirmationTimeout = 30 * time.Minute
	}
	if cfg.Checkout.PollIntervalSeconds <= 0 {
		cfg.Checkout.PollIntervalSeconds = 7
	}
	if cfg.Checkout.PollMaxRefreshes <= 0 {
		cfg.Checkout.PollMaxRefreshes = 8
	}
	if cfg.Security.TokenTTL <= 0 {
		cfg.Security.TokenTTL = 10 * time.Minute
	}
	if cfg.Scheduler.SweepInterval <= 0 {
		cfg.Scheduler.SweepInterval = time.Minute
	}
	if cfg.Scheduler.ExpiryInterval <= 0 {
		cfg.Scheduler.ExpiryInterval = 5 * time.Minute
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Security.TokenSecret == "" {
		return nil, errors.New("security.token_secret is required")
	}
	if cfg.Security.AdminSecret == "" {
		return nil, errors.New("security.admin_secret is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
