// Package logging wires up the structured logger used across the agent.
// bridge runs unattended on customer premises, so every line written by a
// run must carry enough structure to be grepped out of logs/sync.log after
// the fact without a human watching the terminal.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ParseLevel maps the BRIDGE_LOG_LEVEL environment variable onto a zerolog
// level. Unrecognized values fall back to INFO.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "INFO", "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds a logger that writes to w (normally logs/sync.log, opened
// append-only) at the given minimum severity. Every log line is timestamped
// in UTC.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// OpenLogFile opens (creating if necessary) the append-only log file at path.
func OpenLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}
