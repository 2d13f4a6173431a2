// Package observability provides structured logging and Prometheus metrics
// for the agent engine.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger provides structured logging with request/session correlation.
//
// Built on Go's slog package:
//   - Configurable log levels (debug, info, warn, error)
//   - JSON output for production, text for development
//   - Request/session/provider correlation pulled from context
type Logger struct {
	logger *slog.Logger
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text".
	Format string

	// Output is the writer for log output (defaults to os.Stderr).
	Output io.Writer

	// AddSource includes file and line number in log records.
	AddSource bool
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// RequestIDKey is the context key for generation request ids.
	RequestIDKey ContextKey = "request_id"

	// SessionIDKey is the context key for session ids.
	SessionIDKey ContextKey = "session_id"

	// ProviderKey is the context key for provider ids.
	ProviderKey ContextKey = "provider"
)

// NewLogger creates a structured logger. Empty or invalid level defaults to
// "info"; empty format defaults to "text".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}
	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{logger: slog.New(handler)}
}

// Slog exposes the underlying slog.Logger for components that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// WithContext returns a logger that includes the well-known correlation
// fields present in ctx (request_id, session_id, provider) in every record.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := make([]any, 0, 3)
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok && sessionID != "" {
		attrs = append(attrs, slog.String("session_id", sessionID))
	}
	if provider, ok := ctx.Value(ProviderKey).(string); ok && provider != "" {
		attrs = append(attrs, slog.String("provider", provider))
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(attrs...)}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.logger.Info(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.logger.Warn(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
