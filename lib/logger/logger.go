// Package logger provides structured logging with subsystem-specific levels,
// context propagation and OpenTelemetry log bridging.
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const loggerKey contextKey = "logger"

// AddToContext adds a logger to the context
func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or returns default
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// Subsystem names a component with its own log level.
type Subsystem string

const (
	SubsystemAPI     Subsystem = "API"
	SubsystemShaper  Subsystem = "SHAPER"
	SubsystemBackend Subsystem = "BACKEND"
	SubsystemCLI     Subsystem = "CLI"
)

// Config holds log levels. LOG_LEVEL sets the default and
// LOG_LEVEL_<SUBSYSTEM> (e.g. LOG_LEVEL_BACKEND=debug) overrides it.
type Config struct {
	DefaultLevel    slog.Level
	SubsystemLevels map[Subsystem]slog.Level
	Output          io.Writer
}

// NewConfig reads log levels from the environment. Output defaults to stdout.
func NewConfig() Config {
	cfg := Config{
		DefaultLevel:    parseLevel(os.Getenv("LOG_LEVEL"), slog.LevelInfo),
		SubsystemLevels: make(map[Subsystem]slog.Level),
		Output:          os.Stdout,
	}
	for _, s := range []Subsystem{SubsystemAPI, SubsystemShaper, SubsystemBackend, SubsystemCLI} {
		if v := os.Getenv("LOG_LEVEL_" + string(s)); v != "" {
			cfg.SubsystemLevels[s] = parseLevel(v, cfg.DefaultLevel)
		}
	}
	return cfg
}

// LevelFor returns the level for a subsystem.
func (c Config) LevelFor(s Subsystem) slog.Level {
	if level, ok := c.SubsystemLevels[s]; ok {
		return level
	}
	return c.DefaultLevel
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return fallback
	}
	return level
}

// NewSubsystemLogger creates a JSON logger for a subsystem. If otelHandler is
// non-nil, records are also sent to it.
func NewSubsystemLogger(s Subsystem, cfg Config, otelHandler slog.Handler) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	var h slog.Handler = slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LevelFor(s),
	})
	if otelHandler != nil {
		h = &fanoutHandler{handlers: []slog.Handler{h, otelHandler}}
	}
	return slog.New(h).With("subsystem", string(s))
}

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: handlers}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: handlers}
}
