// Package config loads server configuration from YAML files and
// REFLEX_* environment variables via viper. The engine itself is
// configured programmatically with functional options; this package
// covers the serve binary.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full serve configuration.
type Config struct {
	Server  Server  `mapstructure:"server"`
	Engine  Engine  `mapstructure:"engine"`
	Rules   Rules   `mapstructure:"rules"`
	Storage Storage `mapstructure:"storage"`
	Logging Logging `mapstructure:"logging"`
}

// Server configures the HTTP surface.
type Server struct {
	Addr     string `mapstructure:"addr"`
	ServerID string `mapstructure:"server_id"`
}

// Engine configures the runtime limits.
type Engine struct {
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	MaxChainDepth   int           `mapstructure:"max_chain_depth"`
	MaxEvents       int           `mapstructure:"max_events"`
	MaxTraceEntries int           `mapstructure:"max_trace_entries"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Rules configures the rule source and hot reload.
type Rules struct {
	Dir                 string        `mapstructure:"dir"`
	Paths               []string      `mapstructure:"paths"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ValidateBeforeApply bool          `mapstructure:"validate_before_apply"`
	Watch               bool          `mapstructure:"watch"`
}

// Storage configures snapshot persistence.
type Storage struct {
	// Driver is "", "memory", or "sqlite". Empty disables persistence;
	// snapshot endpoints answer 503.
	Driver      string `mapstructure:"driver"`
	Path        string `mapstructure:"path"`
	LoadOnStart bool   `mapstructure:"load_on_start"`
	SaveOnStop  bool   `mapstructure:"save_on_stop"`
}

// Logging configures slog output.
type Logging struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// Load reads configuration from the optional file path, layering
// defaults, the file, and REFLEX_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("REFLEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("engine.max_concurrency", 10)
	v.SetDefault("engine.max_chain_depth", 64)
	v.SetDefault("engine.max_events", 10000)
	v.SetDefault("engine.max_trace_entries", 10000)
	v.SetDefault("engine.shutdown_timeout", 5*time.Second)
	v.SetDefault("rules.poll_interval", 5*time.Second)
	v.SetDefault("rules.validate_before_apply", true)
	v.SetDefault("rules.watch", true)
	v.SetDefault("storage.driver", "")
	v.SetDefault("storage.load_on_start", true)
	v.SetDefault("storage.save_on_stop", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("config: storage.path is required for the sqlite driver")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown logging format %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging level %q", c.Logging.Level)
	}
	return nil
}
