// Package patterns provides chart and candlestick pattern detection.
package patterns

import (
	"fmt"
	"math"

	"pattern-scanner/internal/analysis"
	"pattern-scanner/internal/analysis/indicators"
	apperrors "pattern-scanner/internal/errors"
	"pattern-scanner/internal/models"
)

// DefaultWindowSize is the canonical analysis window length.
const DefaultWindowSize = 120

// WindowNormalizer fixes a candle history to a canonical window and scales it.
type WindowNormalizer struct {
	size int
}

// NewWindowNormalizer creates a normalizer producing windows of the given size.
func NewWindowNormalizer(size int) *WindowNormalizer {
	if size < 2 {
		size = DefaultWindowSize
	}
	return &WindowNormalizer{size: size}
}

func (n *WindowNormalizer) Name() string {
	return "WindowNormalizer"
}

// Normalize right-aligns candles into a window, edge-padding on the left, and scales
// prices jointly over open/high/low/close to [0,1] and volumes by log1p to [0,1].
// It returns ErrDegenerateWindow when every price in the window is identical.
func (n *WindowNormalizer) Normalize(candles []models.Candle) (*analysis.Window, error) {
	if len(candles) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrInsufficientData, "no candles supplied")
	}
	if err := ValidateCandles(candles); err != nil {
		return nil, err
	}

	w := &analysis.Window{
		Candles: n.pad(candles),
	}
	w.Samples = len(candles)
	if w.Samples > n.size {
		w.Samples = n.size
	}

	prices := make([]float64, 0, 4*len(w.Candles))
	for _, c := range w.Candles {
		prices = append(prices, c.Open, c.High, c.Low, c.Close)
	}
	lo, hi := indicators.Extent(prices)
	if hi == lo {
		return nil, apperrors.ErrDegenerateWindow
	}
	w.PriceMin, w.PriceMax = lo, hi

	size := len(w.Candles)
	w.Open = make([]float64, size)
	w.High = make([]float64, size)
	w.Low = make([]float64, size)
	w.Close = make([]float64, size)
	w.Volume = make([]float64, size)

	span := hi - lo
	maxVol := 0.0
	for i, c := range w.Candles {
		w.Open[i] = (c.Open - lo) / span
		w.High[i] = (c.High - lo) / span
		w.Low[i] = (c.Low - lo) / span
		w.Close[i] = (c.Close - lo) / span
		maxVol = math.Max(maxVol, c.Volume)
	}

	divisor := math.Log1p(maxVol)
	if divisor == 0 {
		divisor = 1
	}
	for i, c := range w.Candles {
		w.Volume[i] = math.Log1p(c.Volume) / divisor
	}

	w.Volatility = indicators.ReturnVolatility(indicators.Closes(w.Candles))

	return w, nil
}

// pad keeps the most recent candles and replicates the earliest one on the left.
func (n *WindowNormalizer) pad(candles []models.Candle) []models.Candle {
	if len(candles) >= n.size {
		out := make([]models.Candle, n.size)
		copy(out, candles[len(candles)-n.size:])
		return out
	}

	out := make([]models.Candle, n.size)
	missing := n.size - len(candles)
	for i := 0; i < missing; i++ {
		out[i] = candles[0]
	}
	copy(out[missing:], candles)
	return out
}

// ValidateCandles rejects candles with non-finite or negative fields.
func ValidateCandles(candles []models.Candle) error {
	for i, c := range candles {
		fields := []struct {
			name  string
			value float64
		}{
			{"open", c.Open},
			{"high", c.High},
			{"low", c.Low},
			{"close", c.Close},
			{"volume", c.Volume},
		}
		for _, f := range fields {
			if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
				return apperrors.NewValidationError(fmt.Sprintf("ohlc[%d].%s", i, f.name), f.value, "must be a finite number")
			}
		}
		if c.Volume < 0 {
			return apperrors.NewValidationError(fmt.Sprintf("ohlc[%d].volume", i), c.Volume, "must be non-negative")
		}
	}
	return nil
}
