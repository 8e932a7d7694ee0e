// Package observability provides the process-wide logger and error
// reporting setup.
package observability

import (
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
func NewLogger(env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// InitSentry wires error reporting. An empty DSN disables it; every
// sentry.CaptureException call then becomes a no-op.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

// FlushSentry drains pending events on shutdown.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
