package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ailink/gateway/internal/adapter/outbound/memory"
	"github.com/ailink/gateway/internal/domain/breaker"
	"github.com/ailink/gateway/internal/domain/upstream"
)

func newTestService() upstream.Service {
	return upstream.Service{
		ID:        "svc-1",
		ProjectID: "proj-1",
		Name:      "internal-llm",
		BaseURL:   "https://llm.internal.example.com",
		Type:      upstream.ServiceTypeLLM,
	}
}

func TestHandleSystemInfo(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	h := NewAdminAPIHandler(
		WithBuildInfo(&BuildInfo{Version: "1.2.3", Commit: "abc123", BuildDate: "2026-01-01"}),
		WithStartTime(time.Now().Add(-time.Hour)),
		WithAPILogger(logger),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/system", nil)
	w := httptest.NewRecorder()
	h.handleSystemInfo(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	var info systemInfoResponse
	json.NewDecoder(w.Result().Body).Decode(&info)
	if info.Version != "1.2.3" {
		t.Errorf("Version = %q, want %q", info.Version, "1.2.3")
	}
	if info.UptimeSec < 3500 {
		t.Errorf("UptimeSec = %d, want >= 3500", info.UptimeSec)
	}
}

func TestHandleSystemInfo_DefaultsWithoutBuildInfo(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	h := NewAdminAPIHandler(WithAPILogger(logger))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/system", nil)
	w := httptest.NewRecorder()
	h.handleSystemInfo(w, req)

	var info systemInfoResponse
	json.NewDecoder(w.Result().Body).Decode(&info)
	if info.Version != "dev" {
		t.Errorf("Version = %q, want %q", info.Version, "dev")
	}
}

func TestHandleUpstreamHealth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := newTestService()
	store := memory.NewUpstreamStore()
	store.SaveService(context.Background(), &svc)

	registry := breaker.NewRegistry(breaker.Config{FailureThreshold: 3, RecoveryCooldown: time.Minute, HalfOpenMaxRequests: 1})
	registry.RecordFailure("tok-1", svc.BaseURL, breaker.Config{FailureThreshold: 1})

	h := NewAdminAPIHandler(
		WithUpstreamStore(store),
		WithBreakerRegistry(registry),
		WithAPILogger(logger),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/upstreams?project_id=proj-1&token_id=tok-1", nil)
	w := httptest.NewRecorder()
	h.handleUpstreamHealth(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	var entries []upstreamHealthEntry
	json.NewDecoder(w.Result().Body).Decode(&entries)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].State != "open" {
		t.Errorf("state = %q, want %q", entries[0].State, "open")
	}
}

func TestHandleUpstreamHealth_NoTokenID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := newTestService()
	store := memory.NewUpstreamStore()
	store.SaveService(context.Background(), &svc)

	h := NewAdminAPIHandler(
		WithUpstreamStore(store),
		WithAPILogger(logger),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/upstreams?project_id=proj-1", nil)
	w := httptest.NewRecorder()
	h.handleUpstreamHealth(w, req)

	var entries []upstreamHealthEntry
	json.NewDecoder(w.Result().Body).Decode(&entries)
	if len(entries) != 1 || entries[0].State != "unknown" {
		t.Errorf("entries = %+v, want one entry with state unknown", entries)
	}
}
