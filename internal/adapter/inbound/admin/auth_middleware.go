package admin

import (
	"context"
	"net"
	"net/http"

	"github.com/ailink/gateway/internal/domain/token"
)

type adminKeyContextKey struct{}

// AdminKeyContextKey is the context key the auth middleware stores the
// resolved admin key under, for handlers that need to inspect scopes
// beyond the route-level check (e.g. to filter a list by project).
var AdminKeyContextKey = adminKeyContextKey{}

// isLocalhost checks if the request originates from a loopback address.
// X-Forwarded-For is intentionally NOT trusted here — an attacker could
// spoof it to bypass the admin-key requirement.
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// requireScope wraps next with an X-Admin-Key check, resolved through the
// same token.Resolver the client-facing surface uses for bearer tokens,
// and denies unless the resolved key carries scope. A localhost caller
// still must present a valid key — unlike the teacher's admin UI, this is
// a CRUD API meant for SDKs and CI, not an operator sitting at the
// console, so there is no localhost-only bypass of authentication itself.
func (h *AdminAPIHandler) requireScope(scope token.AdminScope, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Admin-Key")
		if raw == "" {
			h.respondError(w, http.StatusUnauthorized, "X-Admin-Key header is required")
			return
		}

		resolved, err := h.adminResolver.ResolveAdminKey(r.Context(), raw)
		if err != nil {
			h.respondError(w, http.StatusUnauthorized, "invalid admin key")
			return
		}

		if err := token.CheckScope(resolved.Key, scope); err != nil {
			h.respondError(w, http.StatusForbidden, "admin key lacks required scope: "+string(scope))
			return
		}

		ctx := context.WithValue(r.Context(), AdminKeyContextKey, resolved.Key)
		next(w, r.WithContext(ctx))
	}
}
