// Package ctxlog carries the run's slog.Logger through context.Context so
// every pipeline stage logs with the same handler and run attributes.
package ctxlog

import (
	"context"
	"log/slog"
)

// key is an unexported type to prevent collisions with context keys from other packages.
type key struct{}

var loggerKey = key{}

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the slog.Logger from a context. Library code never
// runs without an app-provided logger, so a missing one is a wiring bug.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	panic("ctxlog: logger missing from context")
}

// WithStage returns a context whose logger tags every record with the
// pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With("stage", stage))
}
