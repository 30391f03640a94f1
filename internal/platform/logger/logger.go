// Package logger configures structured logging for the process.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger writing to stdout. Services receive it via
// constructor injection so tests can pass a discard handler.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// NewDiscard returns a logger that drops everything. For tests.
func NewDiscard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
