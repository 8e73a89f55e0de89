// Package config loads pilot configuration from a YAML file with optional
// environment overrides. All sections have working defaults; a missing file
// yields the default configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full pilot configuration.
type Config struct {
	Discovery DiscoveryConfig `yaml:"discovery"`
	Session   SessionConfig   `yaml:"session"`
	Cache     CacheConfig     `yaml:"cache"`
	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Health    HealthConfig    `yaml:"health"`
}

// DiscoveryConfig controls target discovery.
type DiscoveryConfig struct {
	URL         string   `yaml:"url"`
	MaxAttempts int      `yaml:"max_attempts"`
	Delay       Duration `yaml:"delay"`
}

// SessionConfig controls the protocol session.
type SessionConfig struct {
	ConnectTimeout Duration `yaml:"connect_timeout"`
	CommandTimeout Duration `yaml:"command_timeout"`
}

// CacheConfig controls the query cache. Changes apply to insertions made
// after the cache is configured, never retroactively.
type CacheConfig struct {
	MaxSize    int      `yaml:"max_size"`
	DynamicTTL Duration `yaml:"dynamic_ttl"`
	StaticTTL  Duration `yaml:"static_ttl"`
}

// RetryConfig controls the default retry wrapper.
type RetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
}

// BreakerConfig controls circuit breaker defaults.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
}

// HealthConfig controls the health monitor.
type HealthConfig struct {
	Interval    Duration `yaml:"interval"`
	HistorySize int      `yaml:"history_size"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() Config {
	return Config{
		Discovery: DiscoveryConfig{
			URL:         "http://127.0.0.1:9222/json/list",
			MaxAttempts: 5,
			Delay:       Duration(500 * time.Millisecond),
		},
		Session: SessionConfig{
			ConnectTimeout: Duration(10 * time.Second),
			CommandTimeout: Duration(30 * time.Second),
		},
		Cache: CacheConfig{
			MaxSize:    1000,
			DynamicTTL: Duration(5 * time.Second),
			StaticTTL:  Duration(30 * time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: Duration(100 * time.Millisecond),
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  Duration(30 * time.Second),
		},
		Health: HealthConfig{
			Interval:    Duration(30 * time.Second),
			HistorySize: 100,
		},
	}
}

// Load reads configuration from path, falling back to defaults for missing
// fields, then applies PILOT_* environment overrides. An empty path loads
// defaults plus overrides; a named file that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEnvFile loads a dotenv file into the process environment before Load
// resolves PILOT_* overrides. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

// applyEnv folds PILOT_* environment variables over the current values.
func (c *Config) applyEnv() error {
	if v := os.Getenv("PILOT_DISCOVERY_URL"); v != "" {
		c.Discovery.URL = v
	}
	if err := envInt("PILOT_DISCOVERY_MAX_ATTEMPTS", &c.Discovery.MaxAttempts); err != nil {
		return err
	}
	if err := envDuration("PILOT_CONNECT_TIMEOUT", &c.Session.ConnectTimeout); err != nil {
		return err
	}
	if err := envDuration("PILOT_COMMAND_TIMEOUT", &c.Session.CommandTimeout); err != nil {
		return err
	}
	if err := envInt("PILOT_CACHE_MAX_SIZE", &c.Cache.MaxSize); err != nil {
		return err
	}
	if err := envDuration("PILOT_CACHE_DYNAMIC_TTL", &c.Cache.DynamicTTL); err != nil {
		return err
	}
	if err := envDuration("PILOT_CACHE_STATIC_TTL", &c.Cache.StaticTTL); err != nil {
		return err
	}
	if err := envInt("PILOT_BREAKER_FAILURE_THRESHOLD", &c.Breaker.FailureThreshold); err != nil {
		return err
	}
	if err := envDuration("PILOT_HEALTH_INTERVAL", &c.Health.Interval); err != nil {
		return err
	}
	return nil
}

func envInt(name string, out *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*out = parsed
	return nil
}

func envDuration(name string, out *Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*out = Duration(parsed)
	return nil
}
