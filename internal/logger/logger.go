// Package logger wires zerolog the way the pack uses it: JSON to stdout in
// production, leveled, with per-request/per-order fields attached by
// callers via log.With().
package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a zerolog.Logger configured for the given service name.
func New(service string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", service).
		Logger()
}
