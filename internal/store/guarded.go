package store

import (
	"context"

	apperrors "pattern-scanner/internal/errors"
	"pattern-scanner/internal/models"
	"pattern-scanner/internal/resilience"
)

// GuardedSource wraps a CandleSource with a circuit breaker. Missing data and bad
// requests are answers, not outages, and do not trip the circuit.
type GuardedSource struct {
	source  CandleSource
	breaker *resilience.CircuitBreaker
}

// NewGuardedSource creates a guarded source using config; IsFailure is set here.
func NewGuardedSource(source CandleSource, config resilience.CircuitBreakerConfig) *GuardedSource {
	config.IsFailure = isOutage
	return &GuardedSource{
		source:  source,
		breaker: resilience.NewCircuitBreaker("candle-store", config),
	}
}

// GetRecentCandles implements CandleSource.
func (g *GuardedSource) GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return resilience.ExecuteWithResult(g.breaker, ctx, func(ctx context.Context) ([]models.Candle, error) {
		return g.source.GetRecentCandles(ctx, symbol, timeframe, limit)
	})
}

// Breaker returns the circuit breaker.
func (g *GuardedSource) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}

func isOutage(err error) bool {
	var verr *apperrors.ValidationError
	if apperrors.As(err, &verr) {
		return false
	}
	return !apperrors.Is(err, apperrors.ErrDataNotFound)
}
