package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level  string
	Format string // "console" or "json"
	Output io.Writer
}

// New builds a zerolog logger from cfg and installs it as the global logger.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = l
	zerolog.DefaultContextLogger = &log.Logger
	return l
}

// FromContext returns the request-scoped logger, falling back to the global one.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// WithFields returns ctx carrying a child logger with the given fields added.
func WithFields(ctx context.Context, fields map[string]interface{}) context.Context {
	l := zerolog.Ctx(ctx).With().Fields(fields).Logger()
	return l.WithContext(ctx)
}
