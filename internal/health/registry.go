// Package health runs named readiness checks registered at process start.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// CheckFunc reports nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report is the response of the readiness endpoint.
type Report struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

type namedCheck struct {
	name  string
	check CheckFunc
}

// Registry holds the service's health checks. It is constructed in main and
// passed to whatever serves the health endpoints.
type Registry struct {
	timeout time.Duration
	startAt time.Time

	mu     sync.RWMutex
	checks []namedCheck
}

// NewRegistry creates an empty registry whose checks share timeout.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{timeout: timeout, startAt: time.Now()}
}

// Register adds a check. Registering the same name twice replaces the first check.
func (r *Registry) Register(name string, check CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.checks {
		if r.checks[i].name == name {
			r.checks[i].check = check
			return
		}
	}
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes every check concurrently.
func (r *Registry) Run(ctx context.Context) Report {
	r.mu.RLock()
	checks := append([]namedCheck(nil), r.checks...)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	results := make([]Check, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c namedCheck) {
			defer wg.Done()
			results[i] = runCheck(ctx, c.check)
		}(i, c)
	}
	wg.Wait()

	report := Report{
		Status:    statusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(r.startAt).String(),
		Checks:    make(map[string]Check, len(checks)),
	}
	for i, c := range checks {
		report.Checks[c.name] = results[i]
		if results[i].Status != statusHealthy {
			report.Status = statusUnhealthy
		}
	}
	return report
}

func runCheck(ctx context.Context, check CheckFunc) (result Check) {
	defer func() {
		if v := recover(); v != nil {
			result = Check{Status: statusUnhealthy, Message: fmt.Sprintf("check panicked: %v", v)}
		}
	}()
	if err := check(ctx); err != nil {
		return Check{Status: statusUnhealthy, Message: err.Error()}
	}
	return Check{Status: statusHealthy}
}

// LiveHandler returns a simple health check (for k8s liveness probe)
func (r *Registry) LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// ReadyHandler runs every check and answers 503 when any of them fails.
func (r *Registry) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		report := r.Run(req.Context())

		statusCode := http.StatusOK
		if report.Status != statusHealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(report)
	})
}
