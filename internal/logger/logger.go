package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by the logger
type ContextKey string

const (
	// LoggerKey is the context key for the logger instance
	LoggerKey ContextKey = "logger"
)

// Options controls how New builds a logger.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // console|json
	Writer io.Writer
}

// New creates a console logger on stdout at info level.
func New() zerolog.Logger {
	log, _ := NewWithOptions(Options{})
	return log
}

// NewWithOptions builds a logger from Options. Unknown levels are an error;
// empty fields take defaults.
func NewWithOptions(opts Options) (zerolog.Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("NewWithOptions: parsing level %q: %w", opts.Level, err)
		}
		level = l
	}
	if opts.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Caller().Logger(), nil
}

// NewWithWriter creates a JSON logger on a custom writer
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

// WithContext adds the logger to the context
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from the context or returns a default logger
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return New()
	}
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return New()
}

// WithFields adds structured fields to a logger
func WithFields(logger zerolog.Logger, fields map[string]interface{}) zerolog.Logger {
	ctx := logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return ctx.Logger()
}
