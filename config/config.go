// Package config loads process configuration from the environment, the way
// every cmd/ binary in this module (and in the corpus it's modeled on) is
// configured.
package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/kirezdev/jobqueue/internal/jqlog"
)

// Config is the environment-driven configuration shared by the dispatch and
// worker example binaries.
type Config struct {
	DatabaseURL       string `env:"DATABASE_URL,required" validate:"required"`
	Queue             string `env:"QUEUE" envDefault:"default"`
	WorkerCount       int    `env:"WORKER_COUNT" envDefault:"1" validate:"min=1"`
	MaxConnections    int    `env:"MAX_CONNECTIONS" envDefault:"0"`
	MinConnections    int    `env:"MIN_CONNECTIONS" envDefault:"0"`
	RetryAfterSeconds int    `env:"RETRY_AFTER_SECONDS" envDefault:"300" validate:"min=1"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat         string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
}

// Load parses Config from the process environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("jobqueue: parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("jobqueue: invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts LogLevel into an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	return jqlog.Level(c.LogLevel)
}

// LogFormatValue converts LogFormat into a jqlog.Format.
func (c *Config) LogFormatValue() jqlog.Format {
	switch c.LogFormat {
	case "json":
		return jqlog.FormatJSON
	default:
		return jqlog.FormatText
	}
}
