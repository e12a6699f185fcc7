package wfdb

import (
	"io"

	"github.com/charmbracelet/log"
)

// newLogger creates the bootstrap logging sink used before the configuration
// file has been read. Components receive this logger by reference; it is
// never re-created, only reconfigured (see reconfigureLogger).
func newLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Level:           log.InfoLevel,
	})
}

// reconfigureLogger applies the configured verbosity to the existing sink.
// Called exactly once, after loadConfig; every component that already holds
// the logger picks up the new level.
func reconfigureLogger(logger *log.Logger, debug bool) {
	if debug {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
}
