package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/benvon/chapters-api/internal/apierror"
	logpkg "github.com/benvon/chapters-api/internal/logger"
	"github.com/benvon/chapters-api/internal/metrics"
	"github.com/benvon/chapters-api/internal/ratelimit"
	"github.com/benvon/chapters-api/internal/request"
	"github.com/benvon/chapters-api/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultStoreTimeout bounds one counter update against the shared store
const DefaultStoreTimeout = 2 * time.Second

// RateLimiter is the limiter contract the middleware needs
type RateLimiter interface {
	Allow(ctx context.Context, client string) (ratelimit.Decision, error)
	Config() ratelimit.Config
}

// RateLimit counts every request against limiter, keyed by client IP. Counting
// runs detached from the client's cancellation so an abandoned request still
// lands in the counter.
func RateLimit(limiter RateLimiter, m *metrics.Metrics, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	scope := limiter.Config().Scope

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := request.ClientIP(r)

			spanCtx, span := telemetry.Tracer().Start(r.Context(), "ratelimit.allow")
			span.SetAttributes(attribute.String("ratelimit.scope", scope))

			ctx, cancel := context.WithTimeout(context.WithoutCancel(spanCtx), DefaultStoreTimeout)
			d, err := limiter.Allow(ctx, client)
			cancel()

			span.SetAttributes(
				attribute.Bool("ratelimit.permitted", d.Permitted),
				attribute.Bool("ratelimit.degraded", d.Degraded),
			)
			span.End()

			if err != nil {
				if m != nil {
					m.ObserveRateLimit(scope, false)
				}
				apierror.Write(w, r, apierror.Wrap(apierror.KindStoreUnavailable,
					"Rate limiting is temporarily unavailable, please try again later.", err), logger)
				return
			}
			if m != nil {
				m.ObserveRateLimit(scope, d.Permitted)
			}

			setRateLimitHeaders(w.Header(), d)

			if !d.Permitted {
				logger.Debug("rate_limited",
					zap.String("scope", scope),
					zap.String("client", logpkg.SanitizeClient(client)),
					zap.Duration("retry_after", d.RetryAfter),
				)
				apierror.Write(w, r, apierror.RateLimited(d.RetryAfter), logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}
