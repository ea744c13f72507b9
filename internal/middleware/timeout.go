package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/benvon/chapters-api/internal/apierror"
)

// DefaultRequestTimeout bounds handlers when no timeout is configured
const DefaultRequestTimeout = 30 * time.Second

// Timeout cancels the handler context after timeout and answers 503 with the error envelope
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := json.Marshal(apierror.Response{
				Success:   false,
				Error:     apierror.KindTimeout.String(),
				Message:   "Request timed out",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Path:      r.URL.Path,
			})
			w.Header().Set("Content-Type", "application/json")
			http.TimeoutHandler(next, timeout, string(body)).ServeHTTP(w, r)
		})
	}
}
