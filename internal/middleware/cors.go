package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// DefaultOrigin is allowed when no frontend origin is configured
const DefaultOrigin = "http://localhost:3000"

// ParseOrigins splits a comma-separated origin list, dropping blanks and duplicates
func ParseOrigins(frontendURL string) []string {
	seen := map[string]bool{}
	var origins []string
	for _, o := range strings.Split(frontendURL, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		origins = []string{DefaultOrigin}
	}
	return origins
}

// CORS handles preflight and CORS headers for the configured origins
func CORS(frontendURL string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   ParseOrigins(frontendURL),
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", APIKeyHeader, RequestIDHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", CacheHeader, RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           86400,
	})
	return c.Handler
}
