package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/ailink/gateway/internal/adapter/outbound/memory"
	"github.com/ailink/gateway/internal/domain/audit"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health.
type HealthChecker struct {
	rateLimiter *memory.MemoryRateLimiter
	auditEmit   *audit.Emitter
	version     string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available (e.g. a sqlite-backed
// deployment with no in-memory rate limiter).
func NewHealthChecker(rateLimiter *memory.MemoryRateLimiter, auditEmit *audit.Emitter, version string) *HealthChecker {
	return &HealthChecker{
		rateLimiter: rateLimiter,
		auditEmit:   auditEmit,
		version:     version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.rateLimiter != nil {
		_ = h.rateLimiter.Size()
		checks["rate_limiter"] = "ok"
	} else {
		checks["rate_limiter"] = "not configured"
	}

	if h.auditEmit != nil {
		drops := h.auditEmit.Dropped()
		if drops > 0 {
			checks["audit"] = fmt.Sprintf("degraded: %d dropped", drops)
		} else {
			checks["audit"] = "ok"
		}
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
