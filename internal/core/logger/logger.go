package logger

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const (
	// ContextKeyTaskID tags log lines with the task being routed.
	ContextKeyTaskID contextKey = "task_id"
	// ContextKeyRequestID tags log lines with the inbound request.
	ContextKeyRequestID contextKey = "request_id"
)

var defaultLogger *slog.Logger

// Init initializes the global structured logger.
func Init(level slog.Level, format string) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// Get returns the default logger.
func Get() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, "text")
	}
	return defaultLogger
}

// WithContext returns a logger carrying known context values.
func WithContext(ctx context.Context) *slog.Logger {
	log := Get()
	if taskID, ok := ctx.Value(ContextKeyTaskID).(string); ok {
		log = log.With("task_id", taskID)
	}
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		log = log.With("request_id", requestID)
	}
	return log
}

func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

func DebugContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}
