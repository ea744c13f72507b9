package middleware

import (
	"net/http"

	logpkg "github.com/benvon/chapters-api/internal/logger"
	"github.com/benvon/chapters-api/internal/request"
	"go.uber.org/zap"
)

// Audit logs rejected credentials, rate-limit violations and admin operations
func Audit(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			fields := func() []zap.Field {
				return []zap.Field{
					zap.Int("status_code", wrapped.statusCode),
					zap.String("method", r.Method),
					zap.String("path", logpkg.SanitizePath(r.URL.Path)),
					zap.String("ip", logpkg.SanitizeClient(request.ClientIP(r))),
					zap.String("request_id", request.RequestID(r.Context())),
				}
			}

			switch wrapped.statusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				logger.Warn("security_event", fields()...)
			case http.StatusTooManyRequests:
				logger.Warn("rate_limit_violation", fields()...)
			case http.StatusServiceUnavailable:
				logger.Warn("dependency_unavailable", fields()...)
			}
		})
	}
}

// AuditAdmin records every admin operation with the acting principal.
// It must run inside RequireAdmin so the principal is set.
func AuditAdmin(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			subject, method := "", ""
			if p := request.PrincipalFromContext(r); p != nil {
				subject, method = p.Subject, p.Method
			}
			logger.Info("admin_operation",
				zap.String("method", r.Method),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				zap.Int("status_code", wrapped.statusCode),
				zap.String("subject", logpkg.SanitizeClient(subject)),
				zap.String("auth_method", method),
			)
		})
	}
}
