// Package config loads inventorycore settings from defaults, an optional
// config file and INVENTORY_* environment variables, in that order of
// precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"

	"inventorycore/internal/infra/blob"
	"inventorycore/internal/observability"
)

// EnvPrefix prefixes every environment override, e.g. INVENTORY_STORAGE_DRIVER.
const EnvPrefix = "INVENTORY"

type Config struct {
	Storage     Storage                     `mapstructure:"storage"`
	Blob        blob.Config                 `mapstructure:"blob"`
	Locks       Locks                       `mapstructure:"locks"`
	Bulk        Bulk                        `mapstructure:"bulk"`
	Permissions Permissions                 `mapstructure:"permissions"`
	Log         observability.LogConfig     `mapstructure:"log"`
	Tracing     observability.TracingConfig `mapstructure:"tracing"`
}

type Storage struct {
	Driver      string `mapstructure:"driver" default:"sqlite"`
	SQLitePath  string `mapstructure:"sqlite_path" default:"inventorycore.db"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// Locks selects where edit locks live. The redis backend shares locks
// between processes.
type Locks struct {
	Backend       string        `mapstructure:"backend" default:"memory"`
	TTL           time.Duration `mapstructure:"ttl" default:"15m"`
	RedisAddr     string        `mapstructure:"redis_addr" default:"localhost:6379"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
}

type Bulk struct {
	MaxBatchSize int `mapstructure:"max_batch_size" default:"100"`
}

// Permissions chooses between allowing every actor and owner-only access
// with administrator overrides.
type Permissions struct {
	Mode   string   `mapstructure:"mode" default:"owner"`
	Admins []string `mapstructure:"admins"`
}

// Load reads path (optional) over the defaults and applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and out of range limits.
func (c *Config) Validate() error {
	var problems []string
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			problems = append(problems, "storage.postgres_dsn is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Locks.Backend {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("unknown lock backend %q", c.Locks.Backend))
	}
	if c.Locks.TTL < 0 {
		problems = append(problems, "locks.ttl must not be negative")
	}
	if c.Bulk.MaxBatchSize < 1 {
		problems = append(problems, "bulk.max_batch_size must be positive")
	}
	switch c.Permissions.Mode {
	case "allow_all", "owner":
	default:
		problems = append(problems, fmt.Sprintf("unknown permissions mode %q", c.Permissions.Mode))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
