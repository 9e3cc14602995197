// Package daemon manages the pomociclo daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	API        APIConfig        `toml:"api"`
	Database   DatabaseConfig   `toml:"database"`
	Settlement SettlementConfig `toml:"settlement"`
	Lock       LockConfig       `toml:"lock"`
	Logging    LoggingConfig    `toml:"logging"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	RequestTimeout string `toml:"request_timeout"`
}

// DatabaseConfig controls where state.db lives.
type DatabaseConfig struct {
	Dir string `toml:"dir"`
}

// SettlementConfig tunes the settlement orchestrator.
type SettlementConfig struct {
	MaxAttempts              int `toml:"max_attempts"`
	CalendarToleranceMinutes int `toml:"calendar_tolerance_minutes"`
}

// LockConfig selects the per-user lock backend.
type LockConfig struct {
	Backend   string `toml:"backend"` // "local" or "redis"
	RedisAddr string `toml:"redis_addr"`
	TTL       string `toml:"ttl"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Mode  string `toml:"mode"` // "dev" or "prod"
	Level string `toml:"level"`
}

// TelemetryConfig controls metrics and tracing.
type TelemetryConfig struct {
	Prometheus  bool    `toml:"prometheus"`
	Tracing     bool    `toml:"tracing"`
	Endpoint    string  `toml:"endpoint"` // OTLP/HTTP endpoint; stdout when empty
	Insecure    bool    `toml:"insecure"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8425,
			RequestTimeout: "30s",
		},
		Database: DatabaseConfig{
			Dir: pomoHome(),
		},
		Settlement: SettlementConfig{
			MaxAttempts:              3,
			CalendarToleranceMinutes: 60,
		},
		Lock: LockConfig{
			Backend: LockLocal,
			TTL:     "30s",
		},
		Logging: LoggingConfig{
			Mode:  "dev",
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Prometheus:  true,
			SampleRatio: 1.0,
		},
	}
}

// LoadConfig reads config from $POMO_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := ConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes the config to $POMO_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// Validate rejects settings the daemon cannot start with.
func (c Config) Validate() error {
	switch c.Lock.Backend {
	case "", LockLocal:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("config: lock.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown lock.backend %q", c.Lock.Backend)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("config: api.port %d out of range", c.API.Port)
	}
	if c.Settlement.MaxAttempts < 0 {
		return fmt.Errorf("config: settlement.max_attempts must not be negative")
	}
	return nil
}

// CalendarTolerance returns the configured tolerance as a duration.
func (c Config) CalendarTolerance() time.Duration {
	return time.Duration(c.Settlement.CalendarToleranceMinutes) * time.Minute
}

// ConfigPath returns the location of config.toml.
func ConfigPath() string {
	return filepath.Join(pomoHome(), "config.toml")
}

// pomoHome returns the pomociclo data directory.
func pomoHome() string {
	if env := os.Getenv("POMO_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pomociclo")
}

// PomoHome is exported for use by other packages.
func PomoHome() string {
	return pomoHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
