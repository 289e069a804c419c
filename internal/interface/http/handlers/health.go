// Package handlers contains the health checking used by the HTTP server.
//
//	checker := handlers.NewCompositeHealthChecker("1.0.0")
//	checker.AddCheck("store", handlers.NewPingCheck(store))
//	checker.AddOptionalCheck("users_service", handlers.NewPingCheck(usersClient))
package handlers

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPES
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker reports the service health for /health and /ready.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc returns nil when the dependency is usable.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the aggregated result. Healthy requires every check to
// pass; Ready only the required ones.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE CHECKER
// ══════════════════════════════════════════════════════════════════════════════

type dependency struct {
	check    HealthCheckFunc
	optional bool
}

// CompositeHealthChecker runs every registered check concurrently, each
// under its own timeout.
type CompositeHealthChecker struct {
	mu      sync.RWMutex
	deps    map[string]dependency
	started time.Time
	version string
	timeout time.Duration
}

// NewCompositeHealthChecker creates a checker with a 5s per-check timeout.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		deps:    make(map[string]dependency),
		started: time.Now(),
		version: version,
		timeout: 5 * time.Second,
	}
}

// SetTimeout changes the per-check timeout. Call it before serving.
func (c *CompositeHealthChecker) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// AddCheck registers a dependency the service cannot serve without.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	c.register(name, dependency{check: fn})
}

// AddOptionalCheck registers a dependency whose failure degrades health but
// keeps the service ready. The catalog keeps working without the users
// service, so that check is optional.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, fn HealthCheckFunc) {
	c.register(name, dependency{check: fn, optional: true})
}

func (c *CompositeHealthChecker) register(name string, d dependency) {
	c.mu.Lock()
	c.deps[name] = d
	c.mu.Unlock()
}

// Check runs all checks and aggregates them.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	deps := maps.Clone(c.deps)
	c.mu.RUnlock()

	names := slices.Sorted(maps.Keys(deps))
	results := make([]CheckResult, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.run(ctx, deps[name])
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(names)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	var failing []string
	for i, name := range names {
		res := results[i]
		status.Checks[name] = res
		if res.Healthy {
			continue
		}
		failing = append(failing, name)
		status.Healthy = false
		status.Ready = status.Ready && res.Optional
	}

	switch {
	case len(names) == 0:
		status.Message = "No health checks registered"
	case len(failing) == 0:
		status.Message = "All checks passed"
	default:
		status.Message = "Some checks failed: " + strings.Join(failing, ", ")
	}
	return status
}

func (c *CompositeHealthChecker) run(ctx context.Context, d dependency) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := d.check(ctx)
	res := CheckResult{
		Healthy:  err == nil,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
		Optional: d.optional,
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// Pinger is implemented by the stores, the Redis client and the users client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck adapts a Pinger.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}
