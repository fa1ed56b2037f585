// Package errors defines the failures the detection pipeline and its stores report.
package errors

import (
	"errors"
	"fmt"
)

// Sentinels matched with Is across package boundaries.
var (
	ErrDegenerateWindow = errors.New("degenerate window: price range is zero")
	ErrInsufficientData = errors.New("insufficient data")
	ErrInputValidation  = errors.New("input validation failed")
	ErrUnknownTemplate  = errors.New("unknown template")
	ErrDataNotFound     = errors.New("data not found")
	ErrStore            = errors.New("candle store failure")
	ErrInternal         = errors.New("internal error")
)

// ValidationError rejects one request field. It matches ErrInputValidation.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInputValidation }

// NewValidationError reports that value of field breaks a rule described by message.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// EngineError locates a pipeline failure by key and stage.
type EngineError struct {
	Key   string
	Stage string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error [%s] %s: %v", e.Key, e.Stage, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewEngineError wraps err as a failure of stage while analyzing key.
func NewEngineError(key, stage string, err error) *EngineError {
	return &EngineError{Key: key, Stage: stage, Err: err}
}

// SeriesError is a store failure for one candle series.
type SeriesError struct {
	Symbol    string
	Timeframe string
	Op        string
	Err       error
}

func (e *SeriesError) Error() string {
	return fmt.Sprintf("%s %s:%s: %v", e.Op, e.Symbol, e.Timeframe, e.Err)
}

func (e *SeriesError) Unwrap() error { return e.Err }

// NewSeriesError wraps err as the failure of op on the symbol/timeframe series.
func NewSeriesError(op, symbol, timeframe string, err error) *SeriesError {
	return &SeriesError{Symbol: symbol, Timeframe: timeframe, Op: op, Err: err}
}

// NoCandles reports an empty series.
func NoCandles(symbol, timeframe string) *SeriesError {
	return NewSeriesError("read candles", symbol, timeframe, ErrDataNotFound)
}

// Wrap prefixes err with message, keeping it matchable. A nil err stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }
