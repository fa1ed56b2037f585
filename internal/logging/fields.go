package logging

import (
	"time"

	"github.com/rs/zerolog"
)

// WithKey tags logger with an instrument/timeframe key.
func WithKey(logger zerolog.Logger, key string) zerolog.Logger {
	return logger.With().Str("key", key).Logger()
}

// WithOperation tags logger with the component or command doing the work.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogDetection records the raw outcome of one detection call at debug level.
func LogDetection(logger zerolog.Logger, key, pattern string, similarity float64, status string) {
	logger.Debug().
		Str("event", "detection").
		Str("key", key).
		Str("pattern", pattern).
		Float64("similarity", similarity).
		Str("status", status).
		Msg("Pattern detected")
}

// LogStateTransition records that the locked classification of a key changed.
func LogStateTransition(logger zerolog.Logger, key, last string, score int, locked string) {
	logger.Info().
		Str("event", "lock").
		Str("key", key).
		Str("last_pattern", last).
		Int("stability", score).
		Str("locked_pattern", locked).
		Msg("Classification locked")
}

// LogRequest records a served HTTP request. Failed requests log at warn.
func LogRequest(logger zerolog.Logger, method, path string, status int, duration time.Duration, err error) {
	event := logger.Debug()
	if err != nil || status >= 500 {
		event = logger.Warn().Err(err)
	}
	event.
		Str("event", "request").
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration", duration).
		Msg("Request served")
}
