// Package store provides candle persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"pattern-scanner/internal/models"
)

// CandleSource supplies the candle history of an instrument/timeframe key.
type CandleSource interface {
	// GetRecentCandles returns up to limit of the most recent candles, oldest first.
	GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

// CandleStore defines the interface for candle persistence.
type CandleStore interface {
	CandleSource

	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
	GetCandlesFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error)
	ListSeries(ctx context.Context) ([]Series, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Series summarizes the stored candles of one key.
type Series struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Count     int       `json:"count"`
	First     time.Time `json:"first"`
	Last      time.Time `json:"last"`
}

var (
	_ CandleStore  = (*SQLiteStore)(nil)
	_ CandleSource = (*GuardedSource)(nil)
)
