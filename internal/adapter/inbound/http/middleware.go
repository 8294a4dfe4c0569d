package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ailink/gateway/internal/ctxkey"
	"github.com/ailink/gateway/internal/domain/ratelimit"
	"github.com/google/uuid"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// LoggerKey is the context key for the enriched logger.
// Uses shared key type from ctxkey package to allow cross-package access without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enrichedLogger)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// DNSRebindingProtection validates Origin header against an allowlist.
// If allowedOrigins is empty, all requests with an Origin header are blocked (local-only mode).
func DNSRebindingProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[origin]; !ok {
				http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerContextKey is the context key type for the raw Authorization
// bearer extracted by BearerMiddleware.
type bearerContextKey struct{}

// BearerKey is the context key for the raw bearer token.
var BearerKey = bearerContextKey{}

// realAuthContextKey holds the X-Real-Authorization header used by BYOK
// passthrough tokens, copied through verbatim to proxy.Request.
type realAuthContextKey struct{}

// RealAuthKey is the context key for X-Real-Authorization.
var RealAuthKey = realAuthContextKey{}

// BearerMiddleware extracts the raw bearer token from the Authorization
// header (and the optional X-Real-Authorization passthrough header) into
// context, generalizing the teacher's APIKeyMiddleware from an MCP
// session-cache key into the proxy pipeline's token.Resolver input.
func BearerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			bearer := strings.TrimPrefix(auth, "Bearer ")
			ctx := context.WithValue(r.Context(), BearerKey, bearer)
			if real := r.Header.Get("X-Real-Authorization"); real != "" {
				ctx = context.WithValue(ctx, RealAuthKey, real)
			}
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// RealIPMiddleware extracts the client's real IP address for rate limiting.
type realIPContextKey struct{}

// IPAddressKey is the context key for the extracted client IP.
var IPAddressKey = realIPContextKey{}

func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), IPAddressKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IngressRateLimitConfig parameterizes the coarse, pre-pipeline IP and
// bearer rate limits, a defense-in-depth cap that sits in front of the
// per-policy rate_limit effect — it bounds request volume before a
// token is even resolved, where a policy-driven limit cannot reach.
type IngressRateLimitConfig struct {
	Enabled   bool
	IPRate    int // requests per minute per client IP
	TokenRate int // requests per minute per bearer value
}

// IngressRateLimitMiddleware enforces IPRate against RealIPMiddleware's
// extracted client IP and TokenRate against a hash of the raw bearer
// BearerMiddleware placed in context, ahead of token resolution in the
// pipeline. Requests with no bearer are only subject to the IP limit.
func IngressRateLimitMiddleware(limiter ratelimit.RateLimiter, cfg IngressRateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled || limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if cfg.IPRate > 0 {
				ip, _ := ctx.Value(IPAddressKey).(string)
				if ip == "" {
					ip = extractRealIP(r)
				}
				result, err := limiter.Allow(ctx, ratelimit.FormatKey(ratelimit.KeyTypeIP, ip), ratelimit.RateLimitConfig{
					Rate: cfg.IPRate, Burst: cfg.IPRate, Period: time.Minute,
				})
				if err == nil && !result.Allowed {
					w.Header().Set("Retry-After", result.RetryAfter.Truncate(time.Second).String())
					http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
					return
				}
			}

			if cfg.TokenRate > 0 {
				if bearer, ok := ctx.Value(BearerKey).(string); ok && bearer != "" {
					sum := sha256.Sum256([]byte(bearer))
					key := hex.EncodeToString(sum[:])
					result, err := limiter.Allow(ctx, ratelimit.FormatKey(ratelimit.KeyTypeUser, key), ratelimit.RateLimitConfig{
						Rate: cfg.TokenRate, Burst: cfg.TokenRate, Period: time.Minute,
					})
					if err == nil && !result.Allowed {
						w.Header().Set("Retry-After", result.RetryAfter.Truncate(time.Second).String())
						http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractRealIP extracts the client's real IP address from the request.
func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if ip != "" {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
