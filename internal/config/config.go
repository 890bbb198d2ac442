// Package config loads lessonstate settings from LESSONSTATE_* environment
// variables. Command-line flags override what is loaded here.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/lessonstate/internal/auth"
	"github.com/roach88/lessonstate/internal/session"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config holds every setting the lessonstate binary reads.
type Config struct {
	Addr        string `env:"LESSONSTATE_ADDR"         envDefault:":8087"`
	Store       string `env:"LESSONSTATE_STORE"        envDefault:"sqlite"`
	DBPath      string `env:"LESSONSTATE_DB_PATH"      envDefault:"lessonstate.db"`
	RedisURL    string `env:"LESSONSTATE_REDIS_URL"`
	RedisPrefix string `env:"LESSONSTATE_REDIS_PREFIX" envDefault:"lessonstate"`

	// ServerURL, when set, makes client commands talk to a running server
	// instead of opening the store directly.
	ServerURL string `env:"LESSONSTATE_SERVER_URL"`

	JWTSecret string        `env:"LESSONSTATE_JWT_SECRET"`
	JWTIssuer string        `env:"LESSONSTATE_JWT_ISSUER" envDefault:"lessonstate"`
	TokenTTL  time.Duration `env:"LESSONSTATE_TOKEN_TTL"  envDefault:"24h"`

	Debounce       time.Duration `env:"LESSONSTATE_DEBOUNCE"        envDefault:"1500ms"`
	HydrateTimeout time.Duration `env:"LESSONSTATE_HYDRATE_TIMEOUT" envDefault:"10s"`
	CloseMode      string        `env:"LESSONSTATE_CLOSE_MODE"      envDefault:"detach"`

	LogLevel string `env:"LESSONSTATE_LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse reads the environment without validating, for callers that apply
// overrides before calling Validate.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints. All problems are reported.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			errs = append(errs, errors.New("LESSONSTATE_DB_PATH is required for the sqlite store"))
		}
	case StoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			errs = append(errs, errors.New("LESSONSTATE_REDIS_URL is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("LESSONSTATE_STORE must be %q or %q, got %q", StoreSQLite, StoreRedis, c.Store))
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < auth.MinSecretLength {
		errs = append(errs, fmt.Errorf("LESSONSTATE_JWT_SECRET must be at least %d bytes", auth.MinSecretLength))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("LESSONSTATE_TOKEN_TTL must be positive, got %s", c.TokenTTL))
	}
	if c.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("LESSONSTATE_DEBOUNCE must be positive, got %s", c.Debounce))
	}
	if c.HydrateTimeout < 0 {
		errs = append(errs, fmt.Errorf("LESSONSTATE_HYDRATE_TIMEOUT must not be negative, got %s", c.HydrateTimeout))
	}
	if _, err := session.ParseCloseMode(c.CloseMode); err != nil {
		errs = append(errs, fmt.Errorf("LESSONSTATE_CLOSE_MODE: %w", err))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("LESSONSTATE_LOG_LEVEL: %w", err))
	}

	return errors.Join(errs...)
}

// SessionCloseMode returns the parsed close mode.
func (c Config) SessionCloseMode() session.CloseMode {
	m, _ := session.ParseCloseMode(c.CloseMode)
	return m
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, err
	}
	return lvl, nil
}

// RequireJWTSecret reports an error when no signing secret is configured.
// Commands that mint or verify tokens call it.
func (c Config) RequireJWTSecret() error {
	if c.JWTSecret == "" {
		return errors.New("LESSONSTATE_JWT_SECRET is required")
	}
	return nil
}
