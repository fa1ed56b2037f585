package patterns

import (
	"math"

	"pattern-scanner/internal/models"
)

// Candle signal labels, in detection priority order.
const (
	SignalMorningStar      = "MORNING STAR"
	SignalHammer           = "HAMMER / PINBAR"
	SignalShootingStar     = "SHOOTING STAR"
	SignalBullishEngulfing = "BULLISH ENGULFING"
	SignalNeutral          = "NEUTRAL"
)

// CandlestickDetector inspects the last one to three candles for reversal signals.
type CandlestickDetector struct {
	starBodyRatio float64 // Star body as a fraction of the first candle's body
	shadowRatio   float64 // Wick size as a multiple of body for hammer/shooting star
}

// NewCandlestickDetector creates a new candlestick signal detector.
func NewCandlestickDetector() *CandlestickDetector {
	return &CandlestickDetector{
		starBodyRatio: 0.3,
		shadowRatio:   2.0,
	}
}

func (d *CandlestickDetector) Name() string {
	return "CandlestickDetector"
}

// Detect returns the first matching signal for the most recent candles, or
// SignalNeutral. Rules needing more candles than supplied are skipped.
func (d *CandlestickDetector) Detect(candles []models.Candle) string {
	n := len(candles)
	if n == 0 {
		return SignalNeutral
	}
	last := candles[n-1]

	if n >= 3 && d.isMorningStar(candles[n-3], candles[n-2], last) {
		return SignalMorningStar
	}

	body := d.bodySize(last)
	if d.lowerShadow(last) > body*d.shadowRatio {
		return SignalHammer
	}
	if d.upperShadow(last) > body*d.shadowRatio {
		return SignalShootingStar
	}

	if n >= 2 && d.isBullishEngulfing(candles[n-2], last) {
		return SignalBullishEngulfing
	}

	return SignalNeutral
}

func (d *CandlestickDetector) isMorningStar(first, star, third models.Candle) bool {
	if !first.IsBearish() {
		return false
	}
	if d.bodySize(star) >= d.bodySize(first)*d.starBodyRatio {
		return false
	}
	firstMidpoint := (first.Open + first.Close) / 2
	return third.IsBullish() && third.Close > firstMidpoint
}

func (d *CandlestickDetector) isBullishEngulfing(prev, curr models.Candle) bool {
	return curr.Close > prev.Open && curr.Open < prev.Close
}

// Helper functions for candle analysis
func (d *CandlestickDetector) bodySize(c models.Candle) float64 {
	return math.Abs(c.Close - c.Open)
}

func (d *CandlestickDetector) upperShadow(c models.Candle) float64 {
	return c.High - max(c.Open, c.Close)
}

func (d *CandlestickDetector) lowerShadow(c models.Candle) float64 {
	return min(c.Open, c.Close) - c.Low
}
