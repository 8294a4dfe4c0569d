package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ailink/gateway/internal/adapter/outbound/memory"
	"github.com/ailink/gateway/internal/domain/token"
	"github.com/ailink/gateway/internal/domain/upstream"
)

func newTestServiceProxyFixture(t *testing.T) (*token.Resolver, *memory.UpstreamStore, string) {
	t.Helper()
	raw := token.Prefix + "test-service-proxy-key"
	rec := &token.Record{
		ID:        token.HashKey(raw),
		ProjectID: "proj-svc",
		Active:    true,
	}
	resolver := token.NewResolver(&fakeTokenStore{recs: map[string]*token.Record{rec.ID: rec}}, token.NewInMemoryCache(time.Minute))
	return resolver, memory.NewUpstreamStore(), raw
}

func withBearer(r *http.Request, raw string) *http.Request {
	ctx := context.WithValue(r.Context(), BearerKey, raw)
	return r.WithContext(ctx)
}

func TestServiceProxyHandler_ForwardsToRegisteredService(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/widgets/42" {
			t.Errorf("unexpected upstream path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("gateway bearer token must not be forwarded upstream")
		}
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstreamSrv.Close()

	resolver, services, raw := newTestServiceProxyFixture(t)
	if err := services.SaveService(context.Background(), &upstream.Service{
		ID: "svc-1", ProjectID: "proj-svc", Name: "widgets",
		BaseURL: upstreamSrv.URL, Type: upstream.ServiceTypeGeneric,
	}); err != nil {
		t.Fatalf("SaveService: %v", err)
	}

	h := NewServiceProxyHandler(resolver, services, upstreamSrv.Client(), slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/v1/proxy/services/widgets/widgets/42", nil)
	req = withBearer(req, raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Upstream") != "yes" {
		t.Errorf("expected upstream response header to be copied through")
	}
	body, _ := io.ReadAll(rr.Body)
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestServiceProxyHandler_UnknownServiceIs404(t *testing.T) {
	resolver, services, raw := newTestServiceProxyFixture(t)
	h := NewServiceProxyHandler(resolver, services, http.DefaultClient, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/v1/proxy/services/nope/anything", nil)
	req = withBearer(req, raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestServiceProxyHandler_LLMServiceIsNotProxyable(t *testing.T) {
	resolver, services, raw := newTestServiceProxyFixture(t)
	if err := services.SaveService(context.Background(), &upstream.Service{
		ID: "svc-llm", ProjectID: "proj-svc", Name: "openai",
		BaseURL: "https://api.openai.com/v1", Type: upstream.ServiceTypeLLM,
	}); err != nil {
		t.Fatalf("SaveService: %v", err)
	}

	h := NewServiceProxyHandler(resolver, services, http.DefaultClient, slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/v1/proxy/services/openai/models", nil)
	req = withBearer(req, raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestServiceProxyHandler_MissingBearerIsUnauthorized(t *testing.T) {
	resolver, services, _ := newTestServiceProxyFixture(t)
	h := NewServiceProxyHandler(resolver, services, http.DefaultClient, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/v1/proxy/services/widgets/42", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestServiceProxyHandler_CrossProjectServiceIsInvisible(t *testing.T) {
	resolver, services, raw := newTestServiceProxyFixture(t)
	if err := services.SaveService(context.Background(), &upstream.Service{
		ID: "svc-other", ProjectID: "other-project", Name: "widgets",
		BaseURL: "https://widgets.example.com", Type: upstream.ServiceTypeGeneric,
	}); err != nil {
		t.Fatalf("SaveService: %v", err)
	}

	h := NewServiceProxyHandler(resolver, services, http.DefaultClient, slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/v1/proxy/services/widgets/42", nil)
	req = withBearer(req, raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a service registered under a different project, got %d", rr.Code)
	}
}
