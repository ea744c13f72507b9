// Package router assembles the HTTP surface: global middleware, per-route
// limiter/cache/auth chains and the route table.
package router

import (
	"net/http"
	"time"

	"github.com/benvon/chapters-api/internal/cache"
	"github.com/benvon/chapters-api/internal/database"
	"github.com/benvon/chapters-api/internal/events"
	"github.com/benvon/chapters-api/internal/handlers"
	"github.com/benvon/chapters-api/internal/metrics"
	"github.com/benvon/chapters-api/internal/middleware"
	"github.com/benvon/chapters-api/internal/request"
	"github.com/benvon/chapters-api/internal/store"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

// ServiceName labels spans emitted by the router
const ServiceName = "chapters-api"

// Deps are the collaborators the router wires together
type Deps struct {
	Logger    *zap.Logger
	Store     store.Store
	Repo      database.ChapterStore
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Auth      *middleware.Authenticator

	GeneralLimiter middleware.RateLimiter
	UploadLimiter  middleware.RateLimiter

	HealthChecks map[string]handlers.Check

	// TrustedProxies may supply the client address through forwarding headers
	TrustedProxies request.TrustedProxies

	FrontendURL    string
	EnableHSTS     bool
	CacheTTL       time.Duration
	MaxUploadBytes int64
	RequestTimeout time.Duration
	Tracing        bool
}

// New builds the service handler
func New(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = handlers.DefaultMaxUploadBytes
	}

	responseCache := cache.New(d.Store)
	rc := middleware.NewResponseCache(responseCache, d.CacheTTL, m, logger)

	chapterHandler := handlers.NewChapterHandler(d.Repo, logger,
		handlers.WithCache(responseCache),
		handlers.WithPublisher(d.Publisher),
		handlers.WithMetrics(m),
		handlers.WithMaxUploadBytes(maxUpload),
	)
	scopes := []string{d.GeneralLimiter.Config().Scope, d.UploadLimiter.Config().Scope}
	adminHandler := handlers.NewAdminHandler(d.Store, responseCache, scopes, logger)
	healthChecker := handlers.NewHealthChecker(d.HealthChecks, logger)

	generalLimit := middleware.RateLimit(d.GeneralLimiter, m, logger)
	uploadLimit := middleware.RateLimit(d.UploadLimiter, m, logger)

	r := mux.NewRouter()
	r.NotFoundHandler = middleware.NotFound()
	r.MethodNotAllowedHandler = middleware.MethodNotAllowed()

	// Registered first runs outermost
	if d.Tracing {
		r.Use(otelmux.Middleware(ServiceName))
	}
	r.Use(m.Middleware)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP(d.TrustedProxies))
	r.Use(middleware.SecurityHeaders(d.EnableHSTS))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Audit(logger))
	r.Use(middleware.ErrorHandler(logger, m.IncPanic))
	r.Use(middleware.MaxRequestSize(maxUpload + middleware.DefaultMaxRequestSize))
	r.Use(middleware.ContentType("application/json", "multipart/form-data"))
	r.Use(middleware.Timeout(d.RequestTimeout))

	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/health", healthChecker.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", handlers.VersionInfo).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.MethodNotAllowedHandler = r.MethodNotAllowedHandler

	// Reads: count every request, then serve from cache, then resolve the caller
	read := func(h http.HandlerFunc) http.Handler {
		return chain(h, generalLimit, rc.Middleware, d.Auth.OptionalAuth)
	}
	api.Handle("/chapters", read(chapterHandler.ListChapters)).Methods(http.MethodGet, http.MethodHead)
	api.Handle("/chapters/upload", chain(http.HandlerFunc(chapterHandler.UploadChapters), d.Auth.RequireAdmin, uploadLimit)).Methods(http.MethodPost)
	api.Handle("/chapters/{id}", read(chapterHandler.GetChapter)).Methods(http.MethodGet, http.MethodHead)
	api.Handle("/chapters", chain(http.HandlerFunc(chapterHandler.CreateChapter), uploadLimit, d.Auth.RequireAdmin)).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.MethodNotAllowedHandler = r.MethodNotAllowedHandler
	admin.Use(d.Auth.RequireAdmin, middleware.AuditAdmin(logger))
	admin.HandleFunc("/reset-limits", adminHandler.ResetLimits).Methods(http.MethodPost)
	admin.HandleFunc("/rate-limits", adminHandler.ListLimits).Methods(http.MethodGet)
	admin.HandleFunc("/cache/purge", adminHandler.PurgeCache).Methods(http.MethodPost)

	// CORS wraps the router so preflight requests are answered before route matching
	return middleware.CORS(d.FrontendURL)(r)
}

// chain wraps h so the first middleware listed runs first
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
