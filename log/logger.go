// Package log configures the process-wide zerolog logger.
package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger. An unknown level falls back to
// info rather than failing startup.
func Setup(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
		log.Warn().
			Str("configured_log_level", level).
			Str("fallback_log_level", logLevel.String()).
			Msg("Invalid LOG_LEVEL configured, defaulting to 'info'")
	}

	var zlog zerolog.Logger
	if pretty {
		zlog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(logLevel).
			With().
			Timestamp().
			Logger()
	} else {
		zlog = zerolog.New(os.Stderr).
			Level(logLevel).
			With().
			Timestamp().
			Logger()
	}

	log.Logger = zlog
	zerolog.SetGlobalLevel(logLevel)
}
