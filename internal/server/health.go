package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// Health states.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status     string               `json:"status"`
	Timestamp  time.Time            `json:"timestamp"`
	Version    string               `json:"version,omitempty"`
	Uptime     string               `json:"uptime,omitempty"`
	Components map[string]Component `json:"components,omitempty"`
}

// Component represents a component's health.
type Component struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
}

// HealthChecker runs named dependency checks.
type HealthChecker struct {
	checks  map[string]CheckFunc
	version string
	started time.Time
	timeout time.Duration
}

// NewHealthChecker creates a checker over checks.
func NewHealthChecker(version string, checks map[string]CheckFunc) *HealthChecker {
	return &HealthChecker{
		checks:  checks,
		version: version,
		started: time.Now(),
		timeout: 5 * time.Second,
	}
}

// Check runs every check. The status is unhealthy if any check fails.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: make(map[string]Component, len(h.checks)),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		start := time.Now()
		err := h.checks[name](cctx)
		cancel()

		c := Component{Status: StatusHealthy, Latency: time.Since(start).Milliseconds()}
		if err != nil {
			c.Status = StatusUnhealthy
			c.Message = err.Error()
			status.Status = StatusUnhealthy
		}
		status.Components[name] = c
	}
	return status
}

// RegisterRoutes registers /healthz (liveness), /readyz (dependency checks)
// and /v1/version.
func (h *HealthChecker) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthStatus{
			Status:    StatusHealthy,
			Timestamp: time.Now(),
			Version:   h.version,
		})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())
		code := http.StatusOK
		if status.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})

	mux.HandleFunc("GET /v1/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": h.version})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent, nothing useful to do with an encode error.
	_ = json.NewEncoder(w).Encode(v)
}
