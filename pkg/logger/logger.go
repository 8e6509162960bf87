// Package logger configures the process-wide slog default and provides
// helpers for component- and job-scoped loggers.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type contextKey struct{}

func Setup(level string, format string) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithObjectKey stores the object key of the job being processed in ctx so
// every log line emitted during the run carries it.
func WithObjectKey(ctx context.Context, objectKey string) context.Context {
	return context.WithValue(ctx, contextKey{}, objectKey)
}

func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if objectKey, ok := ctx.Value(contextKey{}).(string); ok {
		logger = logger.With("object_key", objectKey)
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
