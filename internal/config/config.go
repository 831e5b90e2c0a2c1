// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Learath2/libtw2/internal/observability"
	"github.com/Learath2/libtw2/logging"
)

// Config is shared by the server and the headless client. Each binary reads
// the fields it needs.
type Config struct {
	Addr          string   `env:"SNAPSYNC_ADDR" envDefault:":8080"`
	TickRate      int      `env:"SNAPSYNC_TICK_RATE" envDefault:"30"`
	HistoryTicks  int      `env:"SNAPSYNC_HISTORY_TICKS" envDefault:"150"`
	OutboxSize    int      `env:"SNAPSYNC_OUTBOX_SIZE" envDefault:"64"`
	WorldEntities int      `env:"SNAPSYNC_WORLD_ENTITIES" envDefault:"32"`
	WorldSeed     int64    `env:"SNAPSYNC_WORLD_SEED" envDefault:"1"`
	LogSinks      []string `env:"SNAPSYNC_LOG_SINKS" envDefault:"console" envSeparator:","`
	LogJSONPath   string   `env:"SNAPSYNC_LOG_JSON_PATH"`
	LogLevel      string   `env:"SNAPSYNC_LOG_LEVEL" envDefault:"info"`
	EnablePprof   bool     `env:"SNAPSYNC_PPROF"`
	ServerURL     string   `env:"SNAPSYNC_SERVER_URL" envDefault:"ws://localhost:8080/ws"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.TickRate <= 0 || c.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("SNAPSYNC_TICK_RATE must be in 1..1000, got %d", c.TickRate))
	}
	if c.HistoryTicks < 0 {
		errs = append(errs, fmt.Errorf("SNAPSYNC_HISTORY_TICKS must not be negative, got %d", c.HistoryTicks))
	}
	if c.OutboxSize <= 0 {
		errs = append(errs, fmt.Errorf("SNAPSYNC_OUTBOX_SIZE must be positive, got %d", c.OutboxSize))
	}
	if c.WorldEntities < 0 || c.WorldEntities > 0xffff {
		errs = append(errs, fmt.Errorf("SNAPSYNC_WORLD_ENTITIES must be in 0..65535, got %d", c.WorldEntities))
	}
	if _, err := logging.ParseSeverity(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("SNAPSYNC_LOG_LEVEL: %w", err))
	}
	if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("SNAPSYNC_SERVER_URL must be a ws:// or wss:// url, got %q", c.ServerURL))
	}
	return errors.Join(errs...)
}

// TickInterval is the wall-clock period of one simulation tick.
func (c Config) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(c.TickRate)
}

// Logging derives the event router configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if len(c.LogSinks) > 0 {
		cfg.EnabledSinks = append([]string(nil), c.LogSinks...)
	}
	cfg.JSON.FilePath = c.LogJSONPath
	if severity, err := logging.ParseSeverity(c.LogLevel); err == nil {
		cfg.MinimumSeverity = severity
	}
	return cfg
}

// Observability derives the debug endpoint toggles.
func (c Config) Observability() observability.Config {
	return observability.Config{EnablePprof: c.EnablePprof}
}
