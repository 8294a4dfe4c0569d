package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/ailink/gateway/internal/domain/proxy"
	"github.com/ailink/gateway/internal/domain/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the inbound HTTP adapter that exposes the gateway's
// OpenAI-compatible /v1/* surface, generalized from the teacher's
// HTTPTransport (which served a single JSON-RPC MCP endpoint) into a
// reverse-proxy front door driving proxy.Pipeline for every path.
type Server struct {
	pipeline       *proxy.Pipeline
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	adminHandler   http.Handler // Optional admin API handler for single-port routing
	metrics        *Metrics
	healthChecker  *HealthChecker
	ingressLimiter ratelimit.RateLimiter
	ingressCfg     IngressRateLimitConfig
	serviceProxy   http.Handler
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address for the HTTP server.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithLogger sets the logger for the HTTP server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAdminHandler mounts an admin API handler under /api/ for
// single-port deployments (no separate admin listener).
func WithAdminHandler(h http.Handler) Option {
	return func(s *Server) { s.adminHandler = h }
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) { s.healthChecker = hc }
}

// WithIngressRateLimiter installs the coarse pre-pipeline IP/bearer rate
// limit described by cfg, backed by limiter.
func WithIngressRateLimiter(limiter ratelimit.RateLimiter, cfg IngressRateLimitConfig) Option {
	return func(s *Server) {
		s.ingressLimiter = limiter
		s.ingressCfg = cfg
	}
}

// WithServiceProxy mounts a ServiceProxyHandler at
// /v1/proxy/services/{name}, the generic passthrough surface for
// registered non-LLM Services.
func WithServiceProxy(h http.Handler) Option {
	return func(s *Server) { s.serviceProxy = h }
}

// NewServer creates an HTTP server adapter wrapping the given pipeline.
func NewServer(pipeline *proxy.Pipeline, opts ...Option) *Server {
	s := &Server{
		pipeline:       pipeline,
		addr:           "0.0.0.0:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins accepting HTTP connections and routing them through the
// pipeline. It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = NewMetrics(reg)

	// Middleware order (outermost first): Metrics -> RequestID -> RealIP
	// -> DNSRebinding -> Bearer -> ProxyHandler. Metrics must wrap
	// everything else to capture full request duration including every
	// pipeline stage.
	var proxyHandler http.Handler = NewProxyHandler(s.pipeline)
	proxyHandler = withOptionsSupport(proxyHandler)
	proxyHandler = IngressRateLimitMiddleware(s.ingressLimiter, s.ingressCfg)(proxyHandler)
	proxyHandler = BearerMiddleware(proxyHandler)
	proxyHandler = DNSRebindingProtection(s.allowedOrigins)(proxyHandler)
	proxyHandler = RealIPMiddleware(proxyHandler)
	proxyHandler = RequestIDMiddleware(s.logger)(proxyHandler)
	proxyHandler = MetricsMiddleware(s.metrics)(proxyHandler)

	mux := http.NewServeMux()
	if s.adminHandler != nil {
		mux.Handle("/api/", s.adminHandler)
	}
	if s.healthChecker != nil {
		mux.Handle("/health", s.healthChecker.Handler())
	} else {
		mux.Handle("/health", healthHandler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	if s.serviceProxy != nil {
		// Registered before /v1/ so ServeMux's longest-prefix match picks
		// this route for proxy/services/* instead of the LLM pipeline.
		svcHandler := BearerMiddleware(s.serviceProxy)
		svcHandler = RealIPMiddleware(svcHandler)
		svcHandler = RequestIDMiddleware(s.logger)(svcHandler)
		svcHandler = MetricsMiddleware(s.metrics)(svcHandler)
		mux.Handle("/v1/proxy/services/", svcHandler)
	}

	// The HITL resume surface: a client (or its SDK's long-poller) GETs
	// this path with the same bearer that submitted the original call to
	// retrieve the real response once a reviewer has acted.
	var approvalHandler http.Handler = NewApprovalResumeHandler(s.pipeline)
	approvalHandler = BearerMiddleware(approvalHandler)
	approvalHandler = RealIPMiddleware(approvalHandler)
	approvalHandler = RequestIDMiddleware(s.logger)(approvalHandler)
	approvalHandler = MetricsMiddleware(s.metrics)(approvalHandler)
	mux.Handle("/v1/proxy/approvals/", approvalHandler)
	// Every other client call lands under /v1/*: chat completions,
	// completions, embeddings — the pipeline's own upstream/policy
	// routing decides what happens next, not the mux.
	mux.Handle("/v1/", proxyHandler)

	s.server = &http.Server{Addr: s.addr, Handler: mux}

	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}

// withOptionsSupport answers CORS preflight requests before they reach
// the proxy handler, which only accepts POST.
func withOptionsSupport(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			handleOptions(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// healthHandler returns a fallback handler that responds 200 OK when no
// HealthChecker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
