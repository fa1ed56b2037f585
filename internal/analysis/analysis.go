// Package analysis defines the contracts shared by the pattern detection components.
package analysis

import (
	"pattern-scanner/internal/models"
)

// Matcher ranks pattern labels for a normalized window. Implementations include the
// elastic template matcher and any learned classifier producing the same output.
type Matcher interface {
	Name() string
	Rank(w *Window) ([]Prediction, error)
}

// Prediction is a single ranked classification.
type Prediction struct {
	Label      string
	Confidence float64 // 0..1
	Bias       Bias
}

// Bias represents the expected breakout direction of a pattern.
type Bias string

const (
	Bullish Bias = "bullish"
	Bearish Bias = "bearish"
)

// IsBullish reports whether b is the bullish bias.
func (b Bias) IsBullish() bool {
	return b == Bullish
}

// NeutralLabel is the label a classifier emits when no pattern is present.
const NeutralLabel = "NEUTRAL"

// Window is a fixed-length, right-aligned candle window with its normalized series.
type Window struct {
	// Candles holds the padded raw window, oldest first.
	Candles []models.Candle
	// Samples is the number of real, non-padded candles in the window.
	Samples int

	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64

	PriceMin float64
	PriceMax float64

	Volatility float64
}

// Len returns the window length.
func (w *Window) Len() int {
	return len(w.Candles)
}

// Last returns the most recent raw candle.
func (w *Window) Last() models.Candle {
	return w.Candles[len(w.Candles)-1]
}

// Denormalize maps a normalized price back onto the raw price scale.
func (w *Window) Denormalize(v float64) float64 {
	return w.PriceMin + v*(w.PriceMax-w.PriceMin)
}

// Recent returns the last n real candles (fewer if the window is padded).
func (w *Window) Recent(n int) []models.Candle {
	if n > w.Samples {
		n = w.Samples
	}
	return w.Candles[len(w.Candles)-n:]
}
