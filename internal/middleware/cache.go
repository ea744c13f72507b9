package middleware

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/benvon/chapters-api/internal/cache"
	logpkg "github.com/benvon/chapters-api/internal/logger"
	"github.com/benvon/chapters-api/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CacheHeader reports whether a response came from the cache
const CacheHeader = "X-Cache"

// ResponseCache memoizes successful GET responses
type ResponseCache struct {
	cache       *cache.Cache
	ttl         time.Duration
	fillTimeout time.Duration
	group       singleflight.Group
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewResponseCache creates the caching middleware over c
func NewResponseCache(c *cache.Cache, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{cache: c, ttl: ttl, fillTimeout: DefaultRequestTimeout, metrics: m, logger: logger}
}

// captured is one handler execution, shared by every request collapsed onto it
type captured struct {
	status int
	header http.Header
	body   []byte
}

// Middleware serves hits from the store and populates it on misses. Concurrent
// misses for one key run the handler once. A failing store is bypassed.
func (rc *ResponseCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		key := cache.Key(r)
		entry, ok, err := rc.cache.Get(r.Context(), key)
		if err != nil {
			rc.bypass(w, r, next, key, err)
			return
		}
		if ok {
			rc.observe(metrics.CacheHit)
			writeEntry(w, r, entry)
			return
		}

		if r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		rc.observe(metrics.CacheMiss)
		v, _, _ := rc.group.Do(key, func() (any, error) {
			// Shared by every collapsed request, so it must outlive the leader's client
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), rc.fillTimeout)
			defer cancel()
			return rc.fill(ctx, r.WithContext(ctx), next, key), nil
		})

		res := v.(*captured)
		for k, vals := range res.header {
			w.Header()[k] = append([]string(nil), vals...)
		}
		w.Header().Set(CacheHeader, "MISS")
		w.WriteHeader(res.status)
		_, _ = w.Write(res.body)
	})
}

// fill runs next once and stores a 2xx result, unless an invalidation raced it
func (rc *ResponseCache) fill(ctx context.Context, r *http.Request, next http.Handler, key string) *captured {
	epoch, epochErr := rc.cache.Epoch(ctx)

	buf := newBufferedWriter()
	next.ServeHTTP(buf, r)
	res := &captured{status: buf.status, header: buf.header, body: buf.body.Bytes()}

	if res.status < 200 || res.status >= 300 {
		return res
	}
	if epochErr != nil {
		rc.logger.Warn("cache_store_failed",
			zap.String("key", logpkg.SanitizePath(key)),
			zap.String("error", logpkg.SanitizeError(epochErr)),
		)
		return res
	}

	e := cache.Entry{Status: res.status, ContentType: res.header.Get("Content-Type"), Body: res.body}
	kept, err := rc.cache.SetSince(ctx, key, e, rc.ttl, epoch)
	switch {
	case err != nil:
		rc.logger.Warn("cache_store_failed",
			zap.String("key", logpkg.SanitizePath(key)),
			zap.String("error", logpkg.SanitizeError(err)),
		)
	case !kept:
		rc.logger.Debug("cache_fill_discarded", zap.String("key", logpkg.SanitizePath(key)))
	}
	return res
}

func (rc *ResponseCache) bypass(w http.ResponseWriter, r *http.Request, next http.Handler, key string, err error) {
	rc.observe(metrics.CacheBypass)
	rc.logger.Warn("cache_bypass",
		zap.String("key", logpkg.SanitizePath(key)),
		zap.String("error", logpkg.SanitizeError(err)),
	)
	next.ServeHTTP(w, r)
}

func (rc *ResponseCache) observe(outcome string) {
	if rc.metrics != nil {
		rc.metrics.ObserveCache(outcome)
	}
}

func writeEntry(w http.ResponseWriter, r *http.Request, e *cache.Entry) {
	if e.ContentType != "" {
		w.Header().Set("Content-Type", e.ContentType)
	}
	w.Header().Set(CacheHeader, "HIT")
	w.WriteHeader(e.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(e.Body)
	}
}

// bufferedWriter holds a response in memory so it can be stored and replayed
type bufferedWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header {
	return b.header
}

func (b *bufferedWriter) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.status = code
	b.wroteHeader = true
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}
