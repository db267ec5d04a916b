package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus represents the health status of the service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const defaultCheckTimeout = 5 * time.Second

// HealthCheck is a single named probe. A failing critical check makes the
// service unhealthy; a failing non-critical one only degrades it.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// HealthChecker runs registered checks concurrently.
type HealthChecker struct {
	version  string
	started  time.Time
	mu       sync.RWMutex
	checks   map[string]*HealthCheck
	sessions func() int
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status         HealthStatus           `json:"status"`
	Timestamp      time.Time              `json:"timestamp"`
	Version        string                 `json:"version"`
	Uptime         string                 `json:"uptime"`
	ActiveSessions int                    `json:"active_sessions"`
	Goroutines     int                    `json:"goroutines"`
	Checks         map[string]CheckStatus `json:"checks"`
}

// CheckStatus is the outcome of one check.
type CheckStatus struct {
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration,omitempty"`
}

// NewHealthChecker creates a checker reporting the given version
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version: version,
		started: time.Now(),
		checks:  make(map[string]*HealthCheck),
	}
}

// SetSessionCounter reports fn's value as active_sessions.
func (hc *HealthChecker) SetSessionCounter(fn func() int) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.sessions = fn
}

// RegisterCheck adds or replaces a check by name.
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout <= 0 {
		check.Timeout = defaultCheckTimeout
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name] = check
}

// Names returns the registered check names, sorted
func (hc *HealthChecker) Names() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every check and folds the results into one status.
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := make([]*HealthCheck, 0, len(hc.checks))
	for _, c := range hc.checks {
		checks = append(checks, c)
	}
	sessions := hc.sessions
	hc.mu.RUnlock()

	statuses := make([]CheckStatus, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			statuses[i] = runCheck(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{
		Status:     HealthStatusHealthy,
		Timestamp:  time.Now(),
		Version:    hc.version,
		Uptime:     time.Since(hc.started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Checks:     make(map[string]CheckStatus, len(checks)),
	}
	if sessions != nil {
		resp.ActiveSessions = sessions()
	}
	for i, check := range checks {
		s := statuses[i]
		resp.Checks[check.Name] = s
		switch {
		case s.Status == HealthStatusUnhealthy:
			resp.Status = HealthStatusUnhealthy
		case s.Status == HealthStatusDegraded && resp.Status == HealthStatusHealthy:
			resp.Status = HealthStatusDegraded
		}
	}
	return resp
}

// runCheck bounds check by its timeout even if CheckFunc ignores ctx.
func runCheck(ctx context.Context, check *HealthCheck) CheckStatus {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- check.CheckFunc(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	status := CheckStatus{Status: HealthStatusHealthy, Message: "OK", Duration: time.Since(start).String()}
	if err != nil {
		status.Message = err.Error()
		status.Status = HealthStatusDegraded
		if check.Critical {
			status.Status = HealthStatusUnhealthy
		}
	}
	return status
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HealthHandler serves the full health report
func (hc *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := hc.Check(r.Context())
		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

// LivenessHandler returns a simple liveness probe handler
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler reports ready only when every check passes
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hc.Check(r.Context()).Status == HealthStatusHealthy {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// StoreCheck creates a critical check for the memory store
func StoreCheck(ping func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "memory_store",
		CheckFunc: ping,
		Critical:  true,
	}
}

// OptionalCheck creates a non-critical check; failure degrades the
// service without making it unready for traffic that does not need it.
func OptionalCheck(name string, fn func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      name,
		CheckFunc: fn,
	}
}
