// Package observability wires structured logging, tracing, and metrics.
package observability

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide slog.Logger. In dev it logs human-readable
// text to stderr; in prod it logs JSON so downstream log aggregation can parse it.
func NewLogger(env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if env == "dev" {
		opts.Level = slog.LevelDebug
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
