package admin

import "net/http"

// cspMiddleware sets Content Security Policy and related security headers
// on all responses. This is a JSON API with no HTML surface of its own,
// so the policy is maximally restrictive — there is nothing for it to
// legitimately load.
func cspMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
