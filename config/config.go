package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied when neither the config file nor the environment sets a
// value.
const (
	DefaultListenAddress   = ":8085"
	DefaultShutdownTimeout = 10 * time.Second
)

// Config is the runtime configuration for the loyalty service.
type Config struct {
	ListenAddress   string   `toml:"ListenAddress"`
	DatabaseURL     string   `toml:"DatabaseURL"`
	Environment     string   `toml:"Environment"`
	ShutdownTimeout duration `toml:"ShutdownTimeout"`
}

// duration lets TOML files carry Go duration strings ("10s", "1m").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Load reads the configuration from the given TOML file, then applies
// LOYALTY_* environment overrides. A missing file is not an error; the
// environment alone can configure the service. DatabaseURL is required.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:   DefaultListenAddress,
		ShutdownTimeout: duration{DefaultShutdownTimeout},
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("LOYALTY_LISTEN_ADDRESS")); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("LOYALTY_DB_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LOYALTY_ENV")); v != "" {
		cfg.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("LOYALTY_SHUTDOWN_TIMEOUT")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse LOYALTY_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = duration{parsed}
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("DatabaseURL is required (set it in %s or LOYALTY_DB_URL)", displayPath(path))
	}
	if cfg.ShutdownTimeout.Duration <= 0 {
		cfg.ShutdownTimeout = duration{DefaultShutdownTimeout}
	}
	return cfg, nil
}

// ShutdownGrace returns the configured graceful shutdown window.
func (c *Config) ShutdownGrace() time.Duration {
	return c.ShutdownTimeout.Duration
}

func displayPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return "the config file"
	}
	return path
}
