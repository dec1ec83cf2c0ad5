// Package testutil provides shared testing utilities for the daybook project.
//
// This package contains reusable test infrastructure used across multiple
// packages: a silent logger, in-memory fakes for the chat repository and the
// provider adapter, and a PostgreSQL test container helper.
package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that discards all output.
//
// Use this in tests to reduce noise. log.Logger is a type alias for
// *slog.Logger, so the result satisfies every component that takes one.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
