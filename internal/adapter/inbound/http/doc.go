// Package http provides the inbound HTTP adapter for the gateway's
// client-facing, OpenAI-compatible API.
//
// # Usage
//
// Create and start the server:
//
//	server := http.NewServer(pipeline,
//	    http.WithAddr(":8080"),
//	    http.WithTLS("cert.pem", "key.pem"),
//	    http.WithAllowedOrigins([]string{"https://example.com"}),
//	    http.WithLogger(logger),
//	)
//	err := server.Start(ctx)
//
// # Endpoints
//
//	POST /v1/chat/completions   - OpenAI-compatible chat completion (streaming or not)
//	POST /v1/*                  - Any other OpenAI-compatible or generic-service path
//	GET  /health                - Component health check
//	GET  /metrics                - Prometheus metrics
//	OPTIONS /v1/*                - CORS preflight handling
//
// # Request Headers
//
//	Authorization: Bearer <token>        - Virtual token, resolved by token.Resolver
//	X-Real-Authorization: Bearer <key>   - BYOK passthrough credential, copied verbatim upstream
//	Content-Type: application/json       - Required for POST requests
//
// # Middleware Chain
//
// Requests pass through middleware in this order (outermost first):
//
//  1. MetricsMiddleware - Records duration and status for the full request
//  2. RequestIDMiddleware - Extracts/generates a request ID, enriches the logger
//  3. RealIPMiddleware - Extracts client IP from proxy headers
//  4. DNSRebindingProtection - Validates the Origin header
//  5. BearerMiddleware - Extracts the Authorization bearer and X-Real-Authorization
//  6. ProxyHandler - Drives the request through proxy.Pipeline
//
// # Streaming
//
// A request with `"stream": true` in its JSON body is served as
// Server-Sent Events: one `data: <chunk>` line per translated upstream
// chunk, followed by a terminal `data: [DONE]` line. An error mid-stream
// is emitted as a single `event: error` frame; no partial content is
// replayed as if it were a complete response.
package http
