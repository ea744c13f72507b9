package middleware

import (
	"errors"
	"net/http"

	"github.com/benvon/chapters-api/internal/apierror"
	logpkg "github.com/benvon/chapters-api/internal/logger"
	"github.com/benvon/chapters-api/internal/request"
	"go.uber.org/zap"
)

// ErrorHandler recovers handler panics into the uniform 500 envelope.
// onPanic, when set, is called once per recovered panic.
func ErrorHandler(logger *zap.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if onPanic != nil {
					onPanic()
				}
				// Log panic details server-side but don't expose to client
				logger.Error("panic_recovered",
					zap.Any("error", rec),
					zap.String("path", logpkg.SanitizePath(r.URL.Path)),
					zap.String("method", r.Method),
					zap.String("request_id", request.RequestID(r.Context())),
					zap.Stack("stack"),
				)
				apierror.Write(w, r, apierror.Wrap(apierror.KindInternal, "An unexpected error occurred", errors.New("panic")), nil)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// NotFound answers unmatched routes with the uniform envelope
func NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierror.Write(w, r, apierror.NotFound("Route not found"), nil)
	})
}

// MethodNotAllowed answers a known path requested with the wrong method
func MethodNotAllowed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierror.Write(w, r, apierror.New(apierror.KindMethodNotAllowed, "Method "+r.Method+" not allowed"), nil)
	})
}
