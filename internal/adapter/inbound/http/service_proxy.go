package http

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ailink/gateway/internal/domain/token"
	"github.com/ailink/gateway/internal/domain/upstream"
)

// servicesPathPrefix is the mount point for the generic passthrough
// surface: /v1/proxy/services/{name}/...
const servicesPathPrefix = "/v1/proxy/services/"

// serviceHopByHopHeaders mirrors the teacher's hopByHopHeaders list in
// httpgw/handler.go (RFC 2616 §13.5.1 headers meaningful only for a
// single transport-level connection).
var serviceHopByHopHeaders = []string{
	"Connection",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ServiceProxyHandler forwards a bearer-authenticated request to one of
// the caller's project's registered generic Services, so an agent can
// reach a REST backend at /v1/proxy/services/{name}/... without ever
// learning its real base URL or credential. It is the client-facing
// analogue of the teacher's httpgw.ReverseProxy, adapted from a
// config-reloaded, atomically-swapped target list (PathPrefix /
// StripPrefix / Headers on a []UpstreamTarget) to a per-request
// upstream.Store lookup scoped to the resolved token's project, since
// Services here are admin-API-managed sqlite rows rather than
// startup-config entries.
type ServiceProxyHandler struct {
	tokens   *token.Resolver
	services upstream.Store
	client   *http.Client
	logger   *slog.Logger
}

// NewServiceProxyHandler builds a ServiceProxyHandler. client should be
// the SSRF-guarded client a httptransport.Transport already built
// (Transport.Client()), so generic passthrough targets get the same
// private-IP dial protection as registered LLM upstreams.
func NewServiceProxyHandler(tokens *token.Resolver, services upstream.Store, client *http.Client, logger *slog.Logger) *ServiceProxyHandler {
	return &ServiceProxyHandler{tokens: tokens, services: services, client: client, logger: logger}
}

func (h *ServiceProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bearer, _ := r.Context().Value(BearerKey).(string)
	if bearer == "" {
		writeAPIError(w, http.StatusUnauthorized, "missing_api_key", "Authorization: Bearer <token> header required")
		return
	}
	resolved, err := h.tokens.ResolveToken(r.Context(), bearer)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "invalid_api_key", "token is invalid, expired, or revoked")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, servicesPathPrefix)
	name, remainder, _ := strings.Cut(rest, "/")
	if name == "" {
		writeAPIError(w, http.StatusNotFound, "not_found", "service name is required")
		return
	}

	svc, err := h.services.GetService(r.Context(), resolved.Token.ProjectID, name)
	if err != nil || svc == nil {
		writeAPIError(w, http.StatusNotFound, "service_not_found", fmt.Sprintf("no service named %q is registered for this project", name))
		return
	}
	if svc.Type != upstream.ServiceTypeGeneric {
		writeAPIError(w, http.StatusForbidden, "service_not_proxyable", fmt.Sprintf("service %q is not a generic passthrough target", name))
		return
	}

	target, err := url.Parse(svc.BaseURL)
	if err != nil {
		writeAPIError(w, http.StatusBadGateway, "gateway_error", "registered service has an invalid base_url")
		return
	}
	if remainder != "" {
		target.Path = strings.TrimSuffix(target.Path, "/") + "/" + remainder
	}
	target.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		writeAPIError(w, http.StatusBadGateway, "gateway_error", "failed to build outbound request")
		return
	}
	outReq.Header = r.Header.Clone()
	for _, hdr := range serviceHopByHopHeaders {
		outReq.Header.Del(hdr)
	}
	// The caller's gateway token is a gateway credential, not the
	// target service's — never forward it.
	outReq.Header.Del("Authorization")
	outReq.Header.Set("X-Forwarded-Host", r.Host)

	resp, err := h.client.Do(outReq)
	if err != nil {
		h.logger.Error("service proxy: upstream unreachable", "service", name, "error", err)
		writeAPIError(w, http.StatusBadGateway, "upstream_unreachable", "the registered service did not respond")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
