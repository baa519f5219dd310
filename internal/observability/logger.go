// Package observability builds the process logger, the Prometheus metrics
// and the HTTP middleware shared by the CLI, TUI and API server.
package observability

import (
	"context"
	"io"
	"log/slog"

	"tableqa/internal/config"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// NewLogger builds a structured logger with source locations.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel, AddSource: true}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service),
		slog.String("backend", string(cfg.Backend)),
		slog.String("engine", string(cfg.Engine)),
	)
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(requestIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
