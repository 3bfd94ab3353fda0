package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the service-wide logger. Dev environments get a human-readable
// console writer, everything else gets JSON on stdout.
func New(service, env string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().
			Timestamp().
			Str("service", service).
			Logger()
	}

	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", service).
		Logger()
}
