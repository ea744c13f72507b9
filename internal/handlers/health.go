package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	logpkg "github.com/benvon/chapters-api/internal/logger"
	"go.uber.org/zap"
)

// Version is the build version, set with -ldflags "-X .../internal/handlers.Version=..."
var Version = "dev"

const healthCheckTimeout = 5 * time.Second

// Check probes one dependency
type Check func(ctx context.Context) error

// HealthChecker handles health check requests
type HealthChecker struct {
	checks map[string]Check
	logger *zap.Logger
}

// NewHealthChecker creates a health checker over the named dependency probes.
// Nil probes are skipped, so optional dependencies can be passed unconditionally.
func NewHealthChecker(checks map[string]Check, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	live := make(map[string]Check, len(checks))
	for name, c := range checks {
		if c != nil {
			live[name] = c
		}
	}
	return &HealthChecker{checks: live, logger: logger}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck reports liveness; ?mode=extended also probes every dependency
// and answers 503 when any is down.
func (h *HealthChecker) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK

	if r.URL.Query().Get("mode") == "extended" {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		response.Checks = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				// Details go to the log; the response only says which dependency failed
				h.logger.Warn("health_check_failed",
					zap.String("dependency", name),
					zap.String("error", logpkg.SanitizeError(err)),
				)
				response.Status = "unhealthy"
				response.Checks[name] = "unhealthy"
				continue
			}
			response.Checks[name] = "healthy"
		}
		if response.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// VersionResponse is the body of /version
type VersionResponse struct {
	Version   string `json:"version"`
	GoVersion string `json:"goVersion"`
	Timestamp string `json:"timestamp"`
}

// VersionInfo reports the build version
func VersionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(VersionResponse{
		Version:   Version,
		GoVersion: runtime.Version(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
