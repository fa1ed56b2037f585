// Package models provides domain models for the pattern scanner.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time `json:"timestamp,omitempty"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool {
	return c.Close < c.Open
}

// Key identifies an instrument/timeframe pair whose classification state is tracked.
type Key struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// NewKey builds a normalized key.
func NewKey(symbol, timeframe string) Key {
	return Key{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Timeframe: strings.ToLower(strings.TrimSpace(timeframe)),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Symbol, k.Timeframe)
}

// Status is the breakout/activity status reported for a call.
type Status string

const (
	StatusLowVolatility  Status = "LOW_VOLATILITY"
	StatusWaiting        Status = "WAITING"
	StatusAnalyzing      Status = "ANALYZING"
	StatusWeakBreakout   Status = "WEAK_BREAKOUT"
	StatusActiveBreakout Status = "ACTIVE_BREAKOUT"
	StatusAILocked       Status = "AI_LOCKED"
)

// Edges holds the structural levels of a detected pattern.
type Edges struct {
	Neckline float64 `json:"neckline"`
	Support  float64 `json:"support"`
}

// Point is a single vertex of the projection path.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is the per-call output record.
type Detection struct {
	Name           string  `json:"name"`
	Similarity     float64 `json:"similarity"`
	TargetPrice    float64 `json:"targetPrice"`
	Status         Status  `json:"status"`
	IsBullish      bool    `json:"isBullish"`
	Edges          Edges   `json:"edges"`
	ProjectionPath []Point `json:"projectionPath"`
	Volatility     float64 `json:"volatility"`
	DeadlineX      float64 `json:"deadlineX,omitempty"`

	// Macro and micro signals as detected on this call, before display gating.
	PatternName     string `json:"patternName,omitempty"`
	CandleSignal    string `json:"candleSignal,omitempty"`
	VolumeConfirmed bool   `json:"volumeConfirmed"`
}

// DetectionEvent is published after every successful analysis of a key.
type DetectionEvent struct {
	Key           string    `json:"key"`
	Time          time.Time `json:"time"`
	Detection     Detection `json:"detection"`
	Stability     int       `json:"stability"`
	LockedPattern string    `json:"lockedPattern,omitempty"`
	LockChanged   bool      `json:"lockChanged"`
}
