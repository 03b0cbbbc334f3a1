// Package logging configures zerolog for the insight pipeline.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// Init sets the global level and logger and returns the logger.
func Init(cfg Config) zerolog.Logger {
	return InitWriter(cfg, os.Stdout)
}

func InitWriter(cfg Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
	return log.Logger
}

func WithComponent(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// WithResponse tags a logger with the response and, when known, the stage.
func WithResponse(base zerolog.Logger, responseID, stage string) zerolog.Logger {
	c := base.With().Str("response_id", responseID)
	if stage != "" {
		c = c.Str("stage", stage)
	}
	return c.Logger()
}
