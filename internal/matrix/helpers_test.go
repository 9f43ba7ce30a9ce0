// ABOUTME: Shared helpers for matrix package tests
// ABOUTME: Provides a quiet logger so test output stays readable

package matrix

import (
	"io"
	"log/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
