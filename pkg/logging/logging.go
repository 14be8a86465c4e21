// Package logging configures the process-wide zerolog logger, grounded on
// _examples/beeper-ai-bridge, which threads a zerolog.Logger through every
// connector and cron component rather than using the standard library's
// log package.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console-friendly zerolog logger tagged with the given
// component name (e.g. "reviewapi", "botworker", "ocr").
func New(component string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
