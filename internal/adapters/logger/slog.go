// Package logger adapts log/slog to the ports.Logger interface.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// SlogLogger implements ports.Logger on a structured slog handler writing
// JSON lines to stderr.
type SlogLogger struct {
	logger *slog.Logger
}

// ParseLevel converts a string level to a slog.Level, defaulting to Info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger emitting JSON to stderr at the given minimum level.
func New(level slog.Level) *SlogLogger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &SlogLogger{logger: slog.New(handler)}
}

func attrs(fields []map[string]interface{}) []any {
	if len(fields) == 0 || fields[0] == nil {
		return nil
	}
	out := make([]any, 0, len(fields[0]))
	for k, v := range fields[0] {
		out = append(out, slog.Any(k, v))
	}
	return out
}

// Debug logs a message at Debug level.
func (l *SlogLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.logger.DebugContext(ctx, msg, attrs(fields)...)
}

// Info logs a message at Info level.
func (l *SlogLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.logger.InfoContext(ctx, msg, attrs(fields)...)
}

// Warn logs a message at Warning level.
func (l *SlogLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.logger.WarnContext(ctx, msg, attrs(fields)...)
}

// Error logs an error message at Error level.
func (l *SlogLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	as := attrs(fields)
	if err != nil {
		as = append(as, slog.String("error", err.Error()))
	}
	l.logger.ErrorContext(ctx, msg, as...)
}
