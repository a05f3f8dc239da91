package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// DefaultCheckTimeout bounds a single component check.
const DefaultCheckTimeout = 5 * time.Second

// worse reports whether s is more severe than other.
func (s HealthStatus) worse(other HealthStatus) bool {
	rank := map[HealthStatus]int{HealthStatusHealthy: 0, HealthStatusDegraded: 1, HealthStatusUnhealthy: 2}
	return rank[s] > rank[other]
}

type ComponentHealth struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
}

// SystemHealth is the worst component status plus every component report.
type SystemHealth struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     time.Duration              `json:"uptime"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

type HealthChecker interface {
	Name() string
	Check(ctx context.Context) ComponentHealth
}

type HealthService interface {
	RegisterChecker(checker HealthChecker)
	CheckHealth(ctx context.Context) SystemHealth
	CheckComponent(ctx context.Context, name string) (ComponentHealth, error)
}

// DefaultHealthService checks every registered component concurrently.
type DefaultHealthService struct {
	mu       sync.RWMutex
	checkers []HealthChecker
	timeout  time.Duration
	started  time.Time
	version  string
	logger   Logger
}

func NewHealthService(version string, logger Logger) *DefaultHealthService {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &DefaultHealthService{
		timeout: DefaultCheckTimeout,
		started: time.Now(),
		version: version,
		logger:  logger,
	}
}

// WithTimeout replaces the per-component check deadline.
func (h *DefaultHealthService) WithTimeout(d time.Duration) *DefaultHealthService {
	if d > 0 {
		h.timeout = d
	}
	return h
}

// RegisterChecker adds checker, replacing any previous checker of the same name.
func (h *DefaultHealthService) RegisterChecker(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, existing := range h.checkers {
		if existing.Name() == checker.Name() {
			h.checkers[i] = checker
			return
		}
	}
	h.checkers = append(h.checkers, checker)
	h.logger.Debug("health checker registered", String("component", checker.Name()))
}

func (h *DefaultHealthService) snapshot() []HealthChecker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HealthChecker(nil), h.checkers...)
}

func (h *DefaultHealthService) CheckHealth(ctx context.Context) SystemHealth {
	checkers := h.snapshot()
	results := make([]ComponentHealth, len(checkers))

	var g errgroup.Group
	for i, checker := range checkers {
		g.Go(func() error {
			results[i] = h.runCheck(ctx, checker)
			return nil
		})
	}
	_ = g.Wait()

	report := SystemHealth{
		Status:     HealthStatusHealthy,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.started),
		Version:    h.version,
		Components: make(map[string]ComponentHealth, len(results)),
	}
	for _, result := range results {
		report.Components[result.Name] = result
		if result.Status.worse(report.Status) {
			report.Status = result.Status
		}
	}

	if report.Status != HealthStatusHealthy {
		h.logger.Warn("health check not passing", String("status", string(report.Status)))
	}
	return report
}

func (h *DefaultHealthService) CheckComponent(ctx context.Context, name string) (ComponentHealth, error) {
	for _, checker := range h.snapshot() {
		if checker.Name() == name {
			return h.runCheck(ctx, checker), nil
		}
	}
	return ComponentHealth{}, fmt.Errorf("component %s not found", name)
}

// runCheck runs one checker under the check deadline. A checker that panics or
// overruns is reported unhealthy; an overrunning goroutine is abandoned.
func (h *DefaultHealthService) runCheck(ctx context.Context, checker HealthChecker) ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan ComponentHealth, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- failed(checker.Name(), start, fmt.Errorf("check panicked: %v", r))
			}
		}()
		done <- checker.Check(ctx)
	}()

	var result ComponentHealth
	select {
	case result = <-done:
	case <-ctx.Done():
		result = failed(checker.Name(), start, fmt.Errorf("check timed out after %s", h.timeout))
	}
	if result.Name == "" {
		result.Name = checker.Name()
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	result.Duration = time.Since(start)

	h.logger.Debug("component checked",
		String("component", result.Name),
		String("status", string(result.Status)),
		Duration("duration", result.Duration))
	return result
}

func failed(name string, start time.Time, err error) ComponentHealth {
	return ComponentHealth{
		Name:      name,
		Status:    HealthStatusUnhealthy,
		Message:   err.Error(),
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

// checkFunc adapts a plain function to HealthChecker.
type checkFunc struct {
	name string
	fn   func(ctx context.Context) ComponentHealth
}

func (c checkFunc) Name() string { return c.name }

func (c checkFunc) Check(ctx context.Context) ComponentHealth {
	health := c.fn(ctx)
	health.Name = c.name
	health.Timestamp = time.Now()
	return health
}

// Pinger is anything that can prove its backing connection is alive.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseCheck pings the chunk store.
func DatabaseCheck(driver string, store Pinger) HealthChecker {
	return checkFunc{name: "database", fn: func(ctx context.Context) ComponentHealth {
		health := ComponentHealth{
			Status:  HealthStatusHealthy,
			Details: map[string]interface{}{"driver": driver},
		}
		if err := store.Ping(ctx); err != nil {
			health.Status = HealthStatusUnhealthy
			health.Message = err.Error()
		}
		return health
	}}
}

// PositionsCheck reports degraded while any region is not numbered 1..N.
func PositionsCheck(checker ConsistencyChecker) HealthChecker {
	return checkFunc{name: "positions", fn: func(ctx context.Context) ComponentHealth {
		report, err := checker.CheckAllConsistency(ctx)
		if err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error()}
		}
		health := ComponentHealth{
			Status: HealthStatusHealthy,
			Details: map[string]interface{}{
				"pairs_checked": report.PairsChecked,
				"violations":    len(report.Violations),
			},
		}
		if !report.IsHealthy {
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("%d region(s) need consolidation", len(report.Violations))
		}
		return health
	}}
}

const cacheCheckKey = "health:check"

// CacheCheck round-trips a value through the cache.
func CacheCheck(cache CacheService) HealthChecker {
	return checkFunc{name: "cache", fn: func(ctx context.Context) ComponentHealth {
		now := time.Now().UnixNano()
		var got int64
		err := cache.Set(ctx, cacheCheckKey, now, time.Minute)
		if err == nil {
			err = cache.Get(ctx, cacheCheckKey, &got)
		}
		if err == nil && got != now {
			err = fmt.Errorf("cache returned %d, want %d", got, now)
		}
		_ = cache.Delete(ctx, cacheCheckKey)
		if err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error()}
		}

		stats := cache.GetStats()
		return ComponentHealth{
			Status: HealthStatusHealthy,
			Details: map[string]interface{}{
				"hit_rate": stats.HitRate,
				"size":     stats.Size,
				"max_size": stats.MaxSize,
			},
		}
	}}
}

// MetricsCheck summarises what the metrics service holds.
func MetricsCheck(metrics MetricsService) HealthChecker {
	return checkFunc{name: "metrics", fn: func(context.Context) ComponentHealth {
		all := metrics.GetMetrics()
		details := map[string]interface{}{"has_system": all["system"] != nil}
		if counters, ok := all["counters"].(map[string]Counter); ok {
			details["counters"] = len(counters)
		}
		return ComponentHealth{Status: HealthStatusHealthy, Details: details}
	}}
}
