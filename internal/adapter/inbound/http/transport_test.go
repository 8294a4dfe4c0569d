package http

import (
	"context"
	"testing"
	"time"

	"github.com/ailink/gateway/internal/adapter/outbound/memory"
	"github.com/ailink/gateway/internal/domain/audit"
)

func TestServer_StartAndServeHealth(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &fakeTransport{statusCode: 200, body: openAIChatResponse()})
	checker := NewHealthChecker(memory.NewRateLimiter(), audit.NewEmitter(&fakeAuditStore{}, silentLogger(), 4), "test")

	srv := NewServer(pipeline, WithAddr("127.0.0.1:0"), WithLogger(silentLogger()), WithHealthChecker(checker))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	// Give the listener a moment to bind before we tear it down; Start
	// blocks until ctx is cancelled so this only verifies the server
	// constructs and shuts down cleanly, not live HTTP traffic (the
	// random port it bound to isn't known to this test).
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestHealthChecker_Healthy(t *testing.T) {
	checker := NewHealthChecker(memory.NewRateLimiter(), audit.NewEmitter(&fakeAuditStore{}, silentLogger(), 4), "test")
	health := checker.Check()
	if health.Status != "healthy" {
		t.Fatalf("expected healthy, got %s", health.Status)
	}
	if health.Checks["rate_limiter"] != "ok" {
		t.Fatalf("expected rate_limiter ok, got %s", health.Checks["rate_limiter"])
	}
}

func TestHealthChecker_NoComponents(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "test")
	health := checker.Check()
	if health.Checks["rate_limiter"] != "not configured" {
		t.Fatalf("expected not configured, got %s", health.Checks["rate_limiter"])
	}
	if health.Checks["audit"] != "not configured" {
		t.Fatalf("expected not configured, got %s", health.Checks["audit"])
	}
}
