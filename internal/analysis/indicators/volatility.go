// Package indicators holds the series statistics used to gate and confirm detections.
package indicators

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"pattern-scanner/internal/models"
)

// Closes extracts close prices from candles.
func Closes(candles []models.Candle) []float64 {
	return column(candles, func(c models.Candle) float64 { return c.Close })
}

// Volumes extracts volumes from candles.
func Volumes(candles []models.Candle) []float64 {
	return column(candles, func(c models.Candle) float64 { return c.Volume })
}

func column(candles []models.Candle, field func(models.Candle) float64) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = field(c)
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for an empty series.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// PopStdDev returns the population standard deviation, or 0 for fewer than two values.
func PopStdDev(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	// stat.Variance is the unbiased estimate.
	return math.Sqrt(stat.Variance(values, nil) * (n - 1) / n)
}

// Extent returns the smallest and largest value, both 0 for an empty series.
func Extent(values []float64) (lo, hi float64) {
	if len(values) == 0 {
		return 0, 0
	}
	return floats.Min(values), floats.Max(values)
}

// PercentReturns returns consecutive close-to-close percentage returns.
// A zero previous close yields a zero return for that step.
func PercentReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns[i-1] = (closes[i] - closes[i-1]) / closes[i-1]
	}
	return returns
}

// ReturnVolatility is the population standard deviation of close-to-close percentage returns.
func ReturnVolatility(closes []float64) float64 {
	return PopStdDev(PercentReturns(closes))
}
