// Package httptransport implements the proxy's outbound Transport port
// against a real net/http client, generalizing the teacher's
// httpgw.safeDialContext SSRF guard (originally written for the forward
// proxy's CONNECT path) into the dialer every upstream LLM call uses.
package httptransport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ailink/gateway/internal/domain/proxy"
)

// privateNetworks are the CIDR ranges a registered upstream or Service
// base URL must never resolve into. Bedrock/Gemini/Anthropic/OpenAI all
// live on public DNS; a project operator who registers a URL that
// resolves to link-local or RFC1918 space is either misconfigured or
// attempting SSRF against the gateway's own host.
var privateNetworks []*net.IPNet

func init() {
	cidrs := []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16", // cloud metadata endpoints
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("httptransport: invalid CIDR in privateNetworks: " + cidr)
		}
		privateNetworks = append(privateNetworks, network)
	}
}

func isPrivateIP(ip net.IP) bool {
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// AllowPrivateTargets disables the SSRF guard for a single Transport,
// needed in self-hosted deployments where a registered upstream
// legitimately lives on a private network (e.g. an on-prem vLLM
// cluster). Off by default.
type Option func(*Transport)

// WithAllowPrivateTargets disables the private-IP dial guard.
func WithAllowPrivateTargets() Option {
	return func(t *Transport) { t.allowPrivate = true }
}

// WithTimeout overrides the per-call client timeout (default 120s, long
// enough for a non-streaming completion against a slow model without
// hanging forever on a dead upstream).
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.client.Timeout = d }
}

// Transport sends translated requests to upstream LLM providers over a
// connection-pooled, SSRF-guarded HTTP client.
type Transport struct {
	client       *http.Client
	allowPrivate bool
}

// New builds a Transport. By default it refuses to dial private/reserved
// IP space, matching the teacher's forward-proxy guard.
func New(opts ...Option) *Transport {
	t := &Transport{}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:         t.safeDialContext(dialer),
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	t.client = &http.Client{Transport: transport, Timeout: 120 * time.Second}
	for _, opt := range opts {
		opt(t)
	}
	// Re-wrap DialContext in case WithAllowPrivateTargets ran after New
	// built the base transport.
	transport.DialContext = t.safeDialContext(dialer)
	return t
}

func (t *Transport) safeDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if t.allowPrivate {
			return dialer.DialContext(ctx, network, addr)
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("httptransport: invalid address %q: %w", addr, err)
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("httptransport: DNS resolution failed for %q: %w", host, err)
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("httptransport: no IPs resolved for %q", host)
		}
		for _, ip := range ips {
			if isPrivateIP(ip.IP) {
				return nil, fmt.Errorf("httptransport: blocked connection to private IP %s (resolved from %s)", ip.IP, host)
			}
		}

		pinned := net.JoinHostPort(ips[0].IP.String(), port)
		return dialer.DialContext(ctx, network, pinned)
	}
}

// Client exposes the pooled, SSRF-guarded *http.Client backing this
// Transport, for callers that need to forward a request verbatim
// (the generic Service passthrough) rather than go through the
// OutboundRequest/OutboundResponse translation Do performs.
func (t *Transport) Client() *http.Client {
	return t.client
}

// Do implements proxy.Transport.
func (t *Transport) Do(ctx context.Context, req proxy.OutboundRequest) (proxy.OutboundResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return proxy.OutboundResponse{}, fmt.Errorf("httptransport: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return proxy.OutboundResponse{Err: err}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return proxy.OutboundResponse{Err: fmt.Errorf("httptransport: read response body: %w", err)}, nil
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return proxy.OutboundResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}

// DoStream implements proxy.StreamTransport: it sends the request and
// returns the live response body for the caller to read chunk-by-chunk,
// rather than buffering the whole thing like Do does.
func (t *Transport) DoStream(ctx context.Context, req proxy.OutboundRequest) (io.ReadCloser, int, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, 0, fmt.Errorf("httptransport: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.StatusCode, nil
}

var _ proxy.Transport = (*Transport)(nil)
var _ proxy.StreamTransport = (*Transport)(nil)
