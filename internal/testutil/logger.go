package testutil

import (
	"io"
	"log/slog"
)

// DiscardLogger returns a logger that drops everything below Error and writes
// nothing, keeping test output readable.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
