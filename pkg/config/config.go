// Package config loads service settings: optional .env file, YAML config
// file, then ENGINE_-prefixed environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DefaultPath is read when Load is given no path and ENGINE_CONFIG is unset.
const DefaultPath = "config/engine.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ENGINE_"

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Backend   BackendConfig   `yaml:"backend" envPrefix:"BACKEND_"`
	Defaults  ModelDefaults   `yaml:"defaults" envPrefix:"DEFAULT_"`
	Integrity IntegrityConfig `yaml:"integrity" envPrefix:"INTEGRITY_"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port" env:"PORT"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

// BackendConfig selects the numeric backend and the compute budget.
type BackendConfig struct {
	Kind           string        `yaml:"kind" env:"KIND"` // lua | native
	InitTimeout    time.Duration `yaml:"init_timeout" env:"INIT_TIMEOUT"`
	ComputeTimeout time.Duration `yaml:"compute_timeout" env:"COMPUTE_TIMEOUT"`
}

// ModelDefaults fill request parameters the caller leaves unset.
type ModelDefaults struct {
	Horizon        int     `yaml:"horizon" env:"HORIZON"`
	MaxHorizon     int     `yaml:"max_horizon" env:"MAX_HORIZON"`
	Sensitivity    float64 `yaml:"sensitivity" env:"SENSITIVITY"`
	WACC           float64 `yaml:"wacc" env:"WACC"`
	TerminalGrowth float64 `yaml:"terminal_growth" env:"TERMINAL_GROWTH"`
	ExitMultiple   float64 `yaml:"exit_multiple" env:"EXIT_MULTIPLE"`
	BudgetRatio    float64 `yaml:"budget_ratio" env:"BUDGET_RATIO"`
}

// IntegrityConfig tunes the integrity scan.
type IntegrityConfig struct {
	RequiredFields []string `yaml:"required_fields" env:"REQUIRED_FIELDS" envSeparator:","`
	Penalty        int      `yaml:"penalty" env:"PENALTY"`
	MinYear        int      `yaml:"min_year" env:"MIN_YEAR"`
	MaxYear        int      `yaml:"max_year" env:"MAX_YEAR"`
	AnomalyZ       float64  `yaml:"anomaly_z" env:"ANOMALY_Z"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
			RequestTimeout: 10 * time.Second,
			MaxBodyBytes:   4 << 20,
		},
		Log: LogConfig{Level: "info"},
		Backend: BackendConfig{
			Kind:           "lua",
			InitTimeout:    500 * time.Millisecond,
			ComputeTimeout: 2 * time.Second,
		},
		Defaults: ModelDefaults{
			Horizon:        5,
			MaxHorizon:     50,
			Sensitivity:    0.10,
			WACC:           0.09,
			TerminalGrowth: 0.025,
			ExitMultiple:   15,
			BudgetRatio:    0.95,
		},
		Integrity: IntegrityConfig{
			RequiredFields: []string{"Revenue", "NetIncome"},
			Penalty:        5,
			MinYear:        2000,
			MaxYear:        2030,
			AnomalyZ:       2.0,
		},
	}
}

// Load builds the configuration. An explicit path (or ENGINE_CONFIG) must
// exist; the default path is optional.
func Load(path string) (*Config, error) {
	// Load environment variables
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
			path, explicit = p, true
		} else {
			path = DefaultPath
		}
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv applies ENGINE_-prefixed environment overrides to target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Server.RequestTimeout > 0, "server.request_timeout must be positive")
	check(c.Server.MaxBodyBytes > 0, "server.max_body_bytes must be positive")
	check(c.Backend.Kind == "lua" || c.Backend.Kind == "native", "backend.kind %q must be lua or native", c.Backend.Kind)
	check(c.Backend.InitTimeout > 0, "backend.init_timeout must be positive")
	check(c.Backend.ComputeTimeout > 0, "backend.compute_timeout must be positive")

	d := c.Defaults
	check(d.Horizon > 0, "defaults.horizon must be positive")
	check(d.MaxHorizon > 0, "defaults.max_horizon must be positive")
	check(d.Horizon <= d.MaxHorizon, "defaults.horizon %d exceeds max_horizon %d", d.Horizon, d.MaxHorizon)
	check(d.Sensitivity >= 0 && d.Sensitivity <= 1, "defaults.sensitivity %v must be within [0, 1]", d.Sensitivity)
	check(d.WACC > -1, "defaults.wacc %v must be greater than -1", d.WACC)
	check(d.ExitMultiple > 0, "defaults.exit_multiple must be positive")
	check(d.BudgetRatio > 0, "defaults.budget_ratio must be positive")

	in := c.Integrity
	check(in.Penalty >= 0, "integrity.penalty must not be negative")
	check(in.MinYear <= in.MaxYear, "integrity.min_year %d exceeds max_year %d", in.MinYear, in.MaxYear)

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
