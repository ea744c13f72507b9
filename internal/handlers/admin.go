package handlers

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/benvon/chapters-api/internal/apierror"
	"github.com/benvon/chapters-api/internal/cache"
	"github.com/benvon/chapters-api/internal/middleware"
	"github.com/benvon/chapters-api/internal/ratelimit"
	"github.com/benvon/chapters-api/internal/store"
	"go.uber.org/zap"
)

// AdminHandler serves operator endpoints over the shared store
type AdminHandler struct {
	store  store.Store
	cache  *cache.Cache
	scopes []string
	logger *zap.Logger
	now    func() time.Time
}

// NewAdminHandler creates an admin handler. scopes lists the limiter scopes a
// reset may name.
func NewAdminHandler(st store.Store, c *cache.Cache, scopes []string, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{store: st, cache: c, scopes: scopes, logger: logger, now: time.Now}
}

// ResetLimitsRequest is the optional body of a reset
type ResetLimitsRequest struct {
	Scope string `json:"scope"`
}

// ClearedResponse reports the store keys an admin operation removed
type ClearedResponse struct {
	Message     string   `json:"message"`
	ClearedKeys []string `json:"clearedKeys"`
}

// LimitsResponse lists live rate-limit records
type LimitsResponse struct {
	Records []ratelimit.Record `json:"records"`
	Count   int                `json:"count"`
}

// ResetLimits clears rate-limit records, for one scope or all of them
func (h *AdminHandler) ResetLimits(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, middleware.DefaultMaxRequestSize)

	var req ResetLimitsRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		apierror.Write(w, r, bodyError(err, middleware.DefaultMaxRequestSize), h.logger)
		return
	}
	if err := h.checkScope(req.Scope); err != nil {
		apierror.Write(w, r, err, h.logger)
		return
	}

	cleared, err := ratelimit.Reset(r.Context(), h.store, req.Scope)
	if err != nil {
		apierror.Write(w, r, apierror.Wrap(apierror.KindStoreUnavailable, "Rate limit store is unavailable", err), h.logger)
		return
	}

	h.logger.Info("rate_limits_reset",
		zap.String("scope", req.Scope),
		zap.Int("cleared", len(cleared)),
	)
	respondJSON(w, http.StatusOK, ClearedResponse{
		Message:     "Rate limits reset successfully",
		ClearedKeys: cleared,
	})
}

// ListLimits returns the live rate-limit records, optionally for ?scope=
func (h *AdminHandler) ListLimits(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if err := h.checkScope(scope); err != nil {
		apierror.Write(w, r, err, h.logger)
		return
	}

	records, err := ratelimit.List(r.Context(), h.store, scope, h.now())
	if err != nil {
		apierror.Write(w, r, apierror.Wrap(apierror.KindStoreUnavailable, "Rate limit store is unavailable", err), h.logger)
		return
	}
	respondJSON(w, http.StatusOK, LimitsResponse{Records: records, Count: len(records)})
}

// PurgeCache drops every cached chapter response
func (h *AdminHandler) PurgeCache(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.cache.Invalidate(r.Context(), ChaptersPath)
	if err != nil {
		apierror.Write(w, r, apierror.Wrap(apierror.KindStoreUnavailable, "Cache store is unavailable", err), h.logger)
		return
	}

	h.logger.Info("cache_purged", zap.Int("cleared", len(cleared)))
	respondJSON(w, http.StatusOK, ClearedResponse{
		Message:     "Cache purged successfully",
		ClearedKeys: cleared,
	})
}

func (h *AdminHandler) checkScope(scope string) error {
	if scope == "" || slices.Contains(h.scopes, scope) {
		return nil
	}
	return apierror.ValidationFields("Unknown rate limit scope", map[string]string{"scope": "must be one of the configured scopes"})
}
