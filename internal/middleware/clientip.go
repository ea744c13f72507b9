package middleware

import (
	"net/http"

	"github.com/benvon/chapters-api/internal/request"
)

// RealIP resolves the client address once per request. Forwarding headers
// count only when they arrive from one of the trusted proxies.
func RealIP(trusted request.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := request.WithClientIP(r.Context(), trusted.Resolve(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
