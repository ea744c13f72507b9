package apierror

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	logpkg "github.com/benvon/chapters-api/internal/logger"
	"go.uber.org/zap"
)

// Response is the uniform error envelope
type Response struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp string            `json:"timestamp"`
	Path      string            `json:"path"`
}

// Write converts err to the envelope and writes it. Internal errors are logged
// with their cause and reach the client only as a generic message.
func Write(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	apiErr := As(err)
	status := apiErr.Status()

	if logger != nil && status >= http.StatusInternalServerError {
		logger.Error("request_failed",
			zap.Int("status_code", status),
			zap.String("method", r.Method),
			zap.String("path", logpkg.SanitizePath(r.URL.Path)),
			zap.String("error", logpkg.SanitizeError(apiErr)),
		)
	}

	if apiErr.Kind == KindRateLimitExceeded && apiErr.RetryAfter > 0 {
		secs := int64(math.Ceil(apiErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := Response{
		Success:   false,
		Error:     apiErr.Kind.String(),
		Message:   apiErr.Message,
		Details:   apiErr.Details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
	}
	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil && logger != nil {
		logger.Error("failed_to_encode_error_response",
			zap.Error(encErr),
			zap.Int("status_code", status),
			zap.String("path", logpkg.SanitizePath(r.URL.Path)),
		)
	}
}
