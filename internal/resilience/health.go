package resilience

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name    string                 `json:"name"`
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Latency time.Duration          `json:"latency"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck represents a health check function.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth is the aggregate of all component checks.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Uptime     string            `json:"uptime"`
	Components []ComponentHealth `json:"components"`
}

// HealthCheckerConfig holds health checker configuration.
type HealthCheckerConfig struct {
	Timeout            time.Duration
	MemoryThresholdMB  uint64
	GoroutineThreshold int
}

// DefaultHealthCheckerConfig returns default configuration.
func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		Timeout:            5 * time.Second,
		MemoryThresholdMB:  500,
		GoroutineThreshold: 1000,
	}
}

// HealthChecker runs registered component checks on demand.
type HealthChecker struct {
	config    HealthCheckerConfig
	startTime time.Time

	mu         sync.RWMutex
	components map[string]HealthCheck
}

// NewHealthChecker creates a health checker with the memory and goroutine checks registered.
func NewHealthChecker(config HealthCheckerConfig) *HealthChecker {
	h := &HealthChecker{
		config:     config,
		startTime:  time.Now(),
		components: make(map[string]HealthCheck),
	}
	h.Register("memory", h.checkMemory)
	h.Register("goroutines", h.checkGoroutines)
	return h
}

// Register adds or replaces a component check.
func (h *HealthChecker) Register(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = check
}

// Check runs every component check concurrently. The overall status is the worst
// component status; a panicking check reports unhealthy.
func (h *HealthChecker) Check(ctx context.Context) SystemHealth {
	h.mu.RLock()
	checks := make(map[string]HealthCheck, len(h.components))
	for name, check := range h.components {
		checks[name] = check
	}
	h.mu.RUnlock()

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	results := make([]ComponentHealth, 0, len(checks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			health := runCheck(ctx, name, check)
			mu.Lock()
			results = append(results, health)
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	status := HealthStatusHealthy
	for _, r := range results {
		switch {
		case r.Status == HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
		case r.Status == HealthStatusDegraded && status == HealthStatusHealthy:
			status = HealthStatusDegraded
		}
	}

	return SystemHealth{
		Status:     status,
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		Components: results,
	}
}

func runCheck(ctx context.Context, name string, check HealthCheck) (health ComponentHealth) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			health = ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("panic recovered: %v", r),
			}
		}
		health.Name = name
		health.Latency = time.Since(start)
	}()
	return check(ctx)
}

func (h *HealthChecker) checkMemory(ctx context.Context) ComponentHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	allocMB := memStats.Alloc / 1024 / 1024
	health := ComponentHealth{
		Status:  HealthStatusHealthy,
		Message: fmt.Sprintf("Memory usage: %d MB", allocMB),
		Details: map[string]interface{}{
			"alloc_mb": allocMB,
			"sys_mb":   memStats.Sys / 1024 / 1024,
			"num_gc":   memStats.NumGC,
		},
	}
	if h.config.MemoryThresholdMB > 0 && allocMB > h.config.MemoryThresholdMB {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("Memory usage high: %d MB", allocMB)
	}
	return health
}

func (h *HealthChecker) checkGoroutines(ctx context.Context) ComponentHealth {
	n := runtime.NumGoroutine()
	health := ComponentHealth{
		Status:  HealthStatusHealthy,
		Message: fmt.Sprintf("Goroutine count: %d", n),
		Details: map[string]interface{}{"count": n},
	}
	if h.config.GoroutineThreshold > 0 && n > h.config.GoroutineThreshold {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("High goroutine count: %d", n)
	}
	return health
}

// DatabaseHealthCheck creates a health check for a database connection.
func DatabaseHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("Database ping failed: %v", err),
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "Database connected"}
	}
}

// CircuitBreakerHealthCheck reports an open circuit as unhealthy and a half-open one
// as degraded.
func CircuitBreakerHealthCheck(cb *CircuitBreaker) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		stats := cb.Stats()
		health := ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: "Circuit " + string(stats.State),
			Details: map[string]interface{}{
				"failures": stats.TotalFailures,
				"rejected": stats.TotalRejected,
			},
		}
		switch stats.State {
		case CircuitOpen:
			health.Status = HealthStatusUnhealthy
		case CircuitHalfOpen:
			health.Status = HealthStatusDegraded
		}
		return health
	}
}
