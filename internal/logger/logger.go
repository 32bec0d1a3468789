// Package logger builds the structured zerolog logger shared by the
// command front end, the engine and the sync packages.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates the default console logger writing to stderr.
func New() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Logger()
}
