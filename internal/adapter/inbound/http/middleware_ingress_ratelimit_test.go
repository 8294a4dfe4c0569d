package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIngressRateLimitMiddleware_Disabled(t *testing.T) {
	t.Parallel()

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	mw := IngressRateLimitMiddleware(&fakeRateLimiter{allow: false}, IngressRateLimitConfig{Enabled: false})(next)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected next handler to run when ingress rate limiting is disabled")
	}
}

func TestIngressRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	t.Parallel()

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	mw := IngressRateLimitMiddleware(nil, IngressRateLimitConfig{Enabled: true, IPRate: 10})(next)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected next handler to run when no limiter is installed")
	}
}

func TestIngressRateLimitMiddleware_BlocksOverIPLimit(t *testing.T) {
	t.Parallel()

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	mw := IngressRateLimitMiddleware(&fakeRateLimiter{allow: false}, IngressRateLimitConfig{Enabled: true, IPRate: 10})(next)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.RemoteAddr = "203.0.113.5:1234"
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if called {
		t.Fatal("expected next handler NOT to run when the IP limiter denies")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestIngressRateLimitMiddleware_AllowsUnderLimit(t *testing.T) {
	t.Parallel()

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	mw := IngressRateLimitMiddleware(&fakeRateLimiter{allow: true}, IngressRateLimitConfig{Enabled: true, IPRate: 10, TokenRate: 10})(next)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer ailink_v1_test")
	rec := httptest.NewRecorder()
	BearerMiddleware(RealIPMiddleware(mw)).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected next handler to run when limiter allows")
	}
}
