// Package config loads orchestratord's configuration: a YAML document
// with an environment-variable override pass layered over compiled-in
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgefleet/orchestrator/pkg/logger"
)

// StoreBackend selects which PersistentStore implementation to construct.
type StoreBackend string

const (
	BackendMemory   StoreBackend = "memory"
	BackendSQLite   StoreBackend = "sqlite"
	BackendPostgres StoreBackend = "postgres"
)

// Tuning holds the constants the Supervisor and Schedule Evaluator
// assume. The zero value is never used directly; Load always fills in the
// defaults first.
type Tuning struct {
	HeartbeatTimeout      time.Duration `yaml:"heartbeatTimeout"`
	MaxMissedHeartbeats   int           `yaml:"maxMissedHeartbeats"`
	HeartbeatPollInterval time.Duration `yaml:"heartbeatPollInterval"`
	MonitorPollInterval   time.Duration `yaml:"monitorPollInterval"`
	MaxCrashRetries       int           `yaml:"maxCrashRetries"`
	CrashBackoff          time.Duration `yaml:"crashBackoff"`
	GracefulStopTimeout   time.Duration `yaml:"gracefulStopTimeout"`
	LaunchReadyTimeout    time.Duration `yaml:"launchReadyTimeout"`
	ScheduleTick          time.Duration `yaml:"scheduleTick"`
	LogRingCapacity       int           `yaml:"logRingCapacity"`
	EventEvictionLimit    int           `yaml:"eventEvictionLimit"`
}

// DefaultTuning returns the constants named as defaults.
func DefaultTuning() Tuning {
	return Tuning{
		HeartbeatTimeout:      30 * time.Second,
		MaxMissedHeartbeats:   3,
		HeartbeatPollInterval: 10 * time.Second,
		MonitorPollInterval:   1 * time.Second,
		MaxCrashRetries:       5,
		CrashBackoff:          5 * time.Second,
		GracefulStopTimeout:   5 * time.Second,
		LaunchReadyTimeout:    30 * time.Second,
		ScheduleTick:          60 * time.Second,
		LogRingCapacity:       100_000,
		EventEvictionLimit:    50_000,
	}
}

// Config is the full process configuration.
type Config struct {
	Logging logger.LoggingConfig `yaml:"logging"`
	Tuning  Tuning               `yaml:"tuning"`

	HTTPAddr string `yaml:"httpAddr"`

	StoreBackend StoreBackend `yaml:"storeBackend"`
	SQLitePath   string       `yaml:"sqlitePath"`
	PostgresDSN  string       `yaml:"postgresDSN"`

	RedisAddr         string `yaml:"redisAddr"` // optional: enables RedisCursorStore for the key pool
	JWTSigningKey     string `yaml:"jwtSigningKey"`
	RateLimitPerSec   int    `yaml:"rateLimitPerSec"`
	RateLimitBurst    int    `yaml:"rateLimitBurst"`
}

// Default returns a Config usable out of the box against the in-memory
// store, suitable for local development.
func Default() Config {
	return Config{
		Logging:         logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Tuning:          DefaultTuning(),
		HTTPAddr:        ":8080",
		StoreBackend:    BackendMemory,
		SQLitePath:      "orchestrator.db",
		RateLimitPerSec: 20,
		RateLimitBurst:  40,
	}
}

// Load reads path as YAML over Default(), then applies environment
// variable overrides (prefix ORCHESTRATOR_). A missing file is not an
// error; Load falls back to Default() and the environment pass alone.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("ORCHESTRATOR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ORCHESTRATOR_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("ORCHESTRATOR_STORE_BACKEND"); v != "" {
		c.StoreBackend = StoreBackend(v)
	}
	if v := os.Getenv("ORCHESTRATOR_SQLITE_PATH"); v != "" {
		c.SQLitePath = v
	}
	if v := os.Getenv("ORCHESTRATOR_POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("ORCHESTRATOR_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("ORCHESTRATOR_JWT_SIGNING_KEY"); v != "" {
		c.JWTSigningKey = v
	}
	if v := os.Getenv("ORCHESTRATOR_RATE_LIMIT_PER_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ORCHESTRATOR_RATE_LIMIT_PER_SEC: %w", err)
		}
		c.RateLimitPerSec = n
	}
	if v := os.Getenv("ORCHESTRATOR_RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ORCHESTRATOR_RATE_LIMIT_BURST: %w", err)
		}
		c.RateLimitBurst = n
	}
	return nil
}
