// Package resilience guards the candle store with a circuit breaker and reports
// component health.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState is the position of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// ErrCircuitOpen is returned without calling the dependency while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig tunes when a circuit opens and how it recovers.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open a closed circuit.
	FailureThreshold int
	// SuccessThreshold successful probes close a half-open circuit.
	SuccessThreshold int
	// OpenTimeout is how long an open circuit rejects calls before probing.
	OpenTimeout time.Duration
	// IsFailure selects the errors that count against the circuit. Nil counts all.
	IsFailure func(error) bool
	// OnStateChange, if set, is called after every transition outside the lock.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the defaults used for the candle store.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing dependency until it had time to recover.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitState
	streak   int // consecutive failures when closed, successes when half-open
	openedAt time.Time
	changed  time.Time
	totals   struct{ requests, failures, rejected int64 }
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:    name,
		config:  config,
		now:     time.Now,
		state:   CircuitClosed,
		changed: time.Now(),
	}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteWithResult(cb, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteWithResult runs fn unless the circuit is open and returns its result.
// Errors rejected by IsFailure are returned but count as successful calls.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !cb.admit() {
		return zero, ErrCircuitOpen
	}

	v, err := fn(ctx)
	failed := err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err))
	cb.settle(failed)
	if err != nil {
		return zero, err
	}
	return v, nil
}

// admit counts a request and reports whether it may reach the dependency. An open
// circuit whose timeout elapsed lets the request through as a half-open probe.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	cb.totals.requests++
	if cb.state != CircuitOpen {
		cb.mu.Unlock()
		return true
	}
	if cb.now().Sub(cb.openedAt) < cb.config.OpenTimeout {
		cb.totals.rejected++
		cb.mu.Unlock()
		return false
	}
	notify := cb.moveTo(CircuitHalfOpen)
	cb.mu.Unlock()

	notify()
	return true
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(failed bool) {
	cb.mu.Lock()
	notify := func() {}
	if failed {
		cb.totals.failures++
	}

	switch {
	case cb.state == CircuitHalfOpen && failed:
		notify = cb.moveTo(CircuitOpen)
	case cb.state == CircuitHalfOpen:
		cb.streak++
		if cb.streak >= cb.config.SuccessThreshold {
			notify = cb.moveTo(CircuitClosed)
		}
	case cb.state == CircuitClosed && failed:
		cb.streak++
		if cb.streak >= cb.config.FailureThreshold {
			notify = cb.moveTo(CircuitOpen)
		}
	case cb.state == CircuitClosed:
		cb.streak = 0
	}
	cb.mu.Unlock()

	notify()
}

// moveTo changes state with mu held and returns the callback to run after unlocking.
func (cb *CircuitBreaker) moveTo(to CircuitState) func() {
	from := cb.state
	cb.state = to
	cb.streak = 0
	cb.changed = cb.now()
	if to == CircuitOpen {
		cb.openedAt = cb.changed
	}

	hook := cb.config.OnStateChange
	if hook == nil || from == to {
		return func() {}
	}
	return func() { hook(cb.name, from, to) }
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CircuitBreakerStats is a snapshot of a circuit breaker.
type CircuitBreakerStats struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"state"`
	TotalRequests   int64        `json:"totalRequests"`
	TotalFailures   int64        `json:"totalFailures"`
	TotalRejected   int64        `json:"totalRejected"`
	LastStateChange time.Time    `json:"lastStateChange"`
}

// Stats returns a snapshot of the counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.state,
		TotalRequests:   cb.totals.requests,
		TotalFailures:   cb.totals.failures,
		TotalRejected:   cb.totals.rejected,
		LastStateChange: cb.changed,
	}
}
