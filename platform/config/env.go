package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Config holds the timing and wiring knobs of one protocol participant.
type Config struct {
	// Bound on a single rules authority call.
	AuthorityTimeout time.Duration `env:"OFFCHAIN_AUTHORITY_TIMEOUT" envDefault:"5s"`
	// How long to wait for the opponent's acknowledgement or next move.
	ResponseDeadline time.Duration `env:"OFFCHAIN_RESPONSE_DEADLINE" envDefault:"30s"`

	ArbiterCallTimeout     time.Duration `env:"OFFCHAIN_ARBITER_CALL_TIMEOUT" envDefault:"10s"`
	DisputeInitialInterval time.Duration `env:"OFFCHAIN_DISPUTE_INITIAL_INTERVAL" envDefault:"500ms"`
	DisputeMaxInterval     time.Duration `env:"OFFCHAIN_DISPUTE_MAX_INTERVAL" envDefault:"10s"`
	DisputeMaxElapsed      time.Duration `env:"OFFCHAIN_DISPUTE_MAX_ELAPSED" envDefault:"2m"`
	// How long the arbiter gives an accused seat to answer a timeout claim.
	DisputeResponseWindow time.Duration `env:"OFFCHAIN_DISPUTE_RESPONSE_WINDOW" envDefault:"30s"`

	SessionScheme string `env:"OFFCHAIN_SESSION_SCHEME" envDefault:"secp256k1"`
	LogLevel      string `env:"OFFCHAIN_LOG_LEVEL" envDefault:"info"`
	MetricsAddr   string `env:"OFFCHAIN_METRICS_ADDR"`
	OTelEndpoint  string `env:"OFFCHAIN_OTEL_ENDPOINT"`
	CatalogPath   string `env:"OFFCHAIN_CATALOG"`
}

// Load parses Config from the environment and checks it for consistency.
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

// Validate rejects non-positive durations, an inverted backoff window and a
// response window that disputes would give up before.
func (c Config) Validate() error {
	durations := map[string]time.Duration{
		"authority timeout":        c.AuthorityTimeout,
		"response deadline":        c.ResponseDeadline,
		"arbiter call timeout":     c.ArbiterCallTimeout,
		"dispute initial interval": c.DisputeInitialInterval,
		"dispute max interval":     c.DisputeMaxInterval,
		"dispute max elapsed":      c.DisputeMaxElapsed,
		"dispute response window":  c.DisputeResponseWindow,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	if c.DisputeInitialInterval > c.DisputeMaxInterval {
		return fmt.Errorf("config: dispute initial interval %s exceeds max interval %s", c.DisputeInitialInterval, c.DisputeMaxInterval)
	}
	if c.DisputeResponseWindow >= c.DisputeMaxElapsed {
		return fmt.Errorf("config: dispute response window %s must be shorter than dispute max elapsed %s", c.DisputeResponseWindow, c.DisputeMaxElapsed)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
