package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type ctxKey struct{}

// SetupJSON sets slog's default logger to use JSON output at the given level.
func SetupJSON(level slog.Level) *slog.Logger {
	return SetupJSONTo(os.Stdout, level)
}

func SetupJSONTo(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(
		slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}),
	)
	slog.SetDefault(logger)

	return logger
}

// WithLogger stores a request scoped logger in ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by WithLogger, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if ok && l != nil {
		return l
	}

	return slog.Default()
}
