// Package security validates externally supplied identifiers before they reach
// the engine, the store or the logs.
package security

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "pattern-scanner/internal/errors"
	"pattern-scanner/internal/models"
)

const maxSymbolLength = 32

var (
	// Upper-case letters and digits with pair separators, e.g. BTCUSDT, ETH/USD, BRK.B.
	symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9._/&-]*$`)

	// A count followed by a unit, e.g. 1m, 15m, 4h, 1d, 1w, 1mo.
	timeframePattern = regexp.MustCompile(`^([1-9][0-9]{0,3})(s|m|h|d|w|mo)$`)

	// Statement words that never occur in a real ticker when spelled out whole.
	statementWords = regexp.MustCompile(`(^|[._/&-])(SELECT|UNION|DROP|INSERT|DELETE|UPDATE)([._/&-]|$)`)
)

var timeframeUnits = map[string]time.Duration{
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
	"mo": 30 * 24 * time.Hour,
}

// InputValidator checks and normalizes instrument/timeframe keys.
type InputValidator struct {
	strictMode bool
}

// NewInputValidator creates a validator. Strict mode also rejects symbols built
// from SQL statement words.
func NewInputValidator(strictMode bool) *InputValidator {
	return &InputValidator{strictMode: strictMode}
}

// ValidateSymbol checks a symbol after upper-casing and trimming it.
func (v *InputValidator) ValidateSymbol(symbol string) error {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case s == "":
		return apperrors.NewValidationError("symbol", symbol, "symbol cannot be empty")
	case len(s) > maxSymbolLength:
		return apperrors.NewValidationError("symbol", symbol, "symbol too long (max "+strconv.Itoa(maxSymbolLength)+" characters)")
	case !symbolPattern.MatchString(s):
		return apperrors.NewValidationError("symbol", symbol, "invalid symbol format")
	case v.strictMode && statementWords.MatchString(s):
		return apperrors.NewValidationError("symbol", symbol, "invalid characters detected")
	}
	return nil
}

// ValidateTimeframe checks a candle timeframe such as 1m or 4h, ignoring case.
func (v *InputValidator) ValidateTimeframe(timeframe string) error {
	if _, err := TimeframeDuration(timeframe); err != nil {
		return err
	}
	return nil
}

// ValidateKey validates symbol and timeframe and returns the normalized key.
func (v *InputValidator) ValidateKey(symbol, timeframe string) (models.Key, error) {
	if err := v.ValidateSymbol(symbol); err != nil {
		return models.Key{}, err
	}
	if err := v.ValidateTimeframe(timeframe); err != nil {
		return models.Key{}, err
	}
	return models.NewKey(symbol, timeframe), nil
}

// TimeframeDuration returns the length of one candle of timeframe. A month counts
// as 30 days.
func TimeframeDuration(timeframe string) (time.Duration, error) {
	tf := strings.ToLower(strings.TrimSpace(timeframe))
	if tf == "" {
		return 0, apperrors.NewValidationError("timeframe", timeframe, "timeframe cannot be empty")
	}
	m := timeframePattern.FindStringSubmatch(tf)
	if m == nil {
		return 0, apperrors.NewValidationError("timeframe", timeframe, "invalid timeframe format (e.g. 1m, 15m, 4h, 1d)")
	}
	n, _ := strconv.Atoi(m[1])
	return time.Duration(n) * timeframeUnits[m[2]], nil
}
