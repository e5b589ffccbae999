// Package logger is the structured logger of the service, backed by log/slog.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Environments the service runs in. Development logs are human readable
const (
	EnvDevelopment = "dev"
	EnvProduction  = "prod"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	With(args ...any) Logger
}

// Logger of the environment writing to stderr: text for development, JSON for production
func New(env string, level string) (Logger, error) {
	return newLogger(os.Stderr, env, level)
}

func newLogger(w io.Writer, env string, level string) (Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl, AddSource: true, ReplaceAttr: replaceAttr}

	switch env {
	case EnvDevelopment:
		return &slogLogger{handler: slog.NewTextHandler(w, opts)}, nil
	case EnvProduction:
		return &slogLogger{handler: slog.NewJSONHandler(w, opts)}, nil
	default:
		return nil, fmt.Errorf("unknown environment %q, expected %q or %q", env, EnvDevelopment, EnvProduction)
	}
}

// Logger for tests and defaults: everything is dropped
func NewNoOpLogger() Logger {
	return &slogLogger{handler: slog.DiscardHandler}
}
