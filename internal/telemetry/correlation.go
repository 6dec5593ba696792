package telemetry

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a context carrying id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// NewCorrelation attaches a fresh random correlation id.
func NewCorrelation(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithCorrelation(ctx, id), id
}

// GetCorrelation returns the correlation id or an empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns the default logger tagged with the context's correlation id.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With("corr", id)
	}
	return slog.Default()
}
