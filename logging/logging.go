// Package logging builds the slog loggers used across petaltask. Records are
// rendered by charmbracelet/log, as colored text on a terminal or as JSON.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Config controls logger construction.
type Config struct {
	Level      string    // debug, info, warn or error; empty means info
	JSON       bool      // emit JSON records instead of text
	Quiet      bool      // only errors, regardless of Level
	Output     io.Writer // defaults to os.Stderr
	Timestamps bool
	TimeFormat string
}

// ParseLevel maps a level name to a slog level. Unknown names are an error.
func ParseLevel(level string) (slog.Level, error) {
	if strings.TrimSpace(level) == "" {
		return slog.LevelInfo, nil
	}
	parsed, err := charmlog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return slog.LevelInfo, err
	}
	return slog.Level(parsed), nil
}

// New returns a slog logger backed by a charmbracelet/log handler.
// An unparseable level falls back to info.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if cfg.Quiet {
		level = slog.LevelError
	}
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = "15:04:05"
	}

	handler := charmlog.NewWithOptions(out, charmlog.Options{
		Level:           charmlog.Level(level),
		ReportTimestamp: cfg.Timestamps,
		TimeFormat:      timeFormat,
	})
	if cfg.JSON {
		handler.SetFormatter(charmlog.JSONFormatter)
	} else {
		handler.SetFormatter(charmlog.TextFormatter)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return New(Config{Output: io.Discard, Quiet: true})
}

type loggerKey struct{}

// ContextWithLogger attaches logger to ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
