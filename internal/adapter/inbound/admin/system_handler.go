package admin

import (
	"net/http"
	"runtime"
	"time"

	"github.com/ailink/gateway/internal/domain/breaker"
)

// BuildInfo holds build-time version information.
// Injected via WithBuildInfo option to avoid import cycles with cmd package.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// WithBreakerRegistry wires the circuit-breaker registry consulted by
// handleUpstreamHealth.
func WithBreakerRegistry(r *breaker.Registry) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.breakerRegistry = r }
}

// systemInfoResponse is the JSON response for GET /api/v1/system.
type systemInfoResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`
}

// handleSystemInfo returns system information including version, uptime,
// Go version, OS, and architecture.
// GET /api/v1/system
func (h *AdminAPIHandler) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	version := "dev"
	commit := "none"
	buildDate := "unknown"

	if h.buildInfo != nil {
		version = h.buildInfo.Version
		commit = h.buildInfo.Commit
		buildDate = h.buildInfo.BuildDate
	}

	resp := systemInfoResponse{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Uptime:    uptime.Truncate(time.Second).String(),
		UptimeSec: int64(uptime.Seconds()),
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// upstreamHealthEntry reports one registered service's circuit-breaker
// state. Breaker state is scoped per (token, upstream URL), so a
// meaningful state requires a token_id; without one the state is reported
// as "unknown" rather than guessed.
type upstreamHealthEntry struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	State   string `json:"state"`
}

// handleUpstreamHealth reports each registered service's circuit-breaker
// state for a project, optionally scoped to a single token.
// GET /api/v1/health/upstreams?project_id=...&token_id=...
func (h *AdminAPIHandler) handleUpstreamHealth(w http.ResponseWriter, r *http.Request) {
	if h.upstreamStore == nil {
		h.respondError(w, http.StatusInternalServerError, "upstream store not configured")
		return
	}
	projectID := r.URL.Query().Get("project_id")
	tokenID := r.URL.Query().Get("token_id")

	services, err := h.upstreamStore.ListServices(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to list services for health check", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list services")
		return
	}

	result := make([]upstreamHealthEntry, len(services))
	for i, svc := range services {
		state := "unknown"
		if h.breakerRegistry != nil && tokenID != "" {
			state = string(h.breakerRegistry.CurrentState(tokenID, svc.BaseURL, breaker.Config{}))
		}
		result[i] = upstreamHealthEntry{Name: svc.Name, BaseURL: svc.BaseURL, State: state}
	}

	h.respondJSON(w, http.StatusOK, result)
}
