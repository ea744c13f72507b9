package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/benvon/chapters-api/internal/apierror"
	"github.com/benvon/chapters-api/internal/cache"
	"github.com/benvon/chapters-api/internal/database"
	"github.com/benvon/chapters-api/internal/events"
	logpkg "github.com/benvon/chapters-api/internal/logger"
	"github.com/benvon/chapters-api/internal/metrics"
	"github.com/benvon/chapters-api/internal/middleware"
	"github.com/benvon/chapters-api/internal/models"
	"github.com/benvon/chapters-api/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	// ChaptersPath is the collection path; cached chapter responses live under it
	ChaptersPath = "/api/v1/chapters"
	// DefaultMaxUploadBytes bounds an uploaded chapter file
	DefaultMaxUploadBytes int64 = 5 << 20

	sideEffectTimeout = 5 * time.Second
)

// ChapterHandler serves the chapter collection
type ChapterHandler struct {
	repo           database.ChapterStore
	cache          *cache.Cache
	publisher      events.Publisher
	metrics        *metrics.Metrics
	logger         *zap.Logger
	maxUploadBytes int64
}

// ChapterHandlerOption configures a ChapterHandler
type ChapterHandlerOption func(*ChapterHandler)

// WithCache invalidates cached chapter responses after writes
func WithCache(c *cache.Cache) ChapterHandlerOption {
	return func(h *ChapterHandler) { h.cache = c }
}

// WithPublisher publishes chapter events after writes
func WithPublisher(p events.Publisher) ChapterHandlerOption {
	return func(h *ChapterHandler) {
		if p != nil {
			h.publisher = p
		}
	}
}

// WithMetrics records event publish outcomes
func WithMetrics(m *metrics.Metrics) ChapterHandlerOption {
	return func(h *ChapterHandler) { h.metrics = m }
}

// WithMaxUploadBytes overrides DefaultMaxUploadBytes
func WithMaxUploadBytes(n int64) ChapterHandlerOption {
	return func(h *ChapterHandler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewChapterHandler creates a new chapter handler
func NewChapterHandler(repo database.ChapterStore, logger *zap.Logger, opts ...ChapterHandlerOption) *ChapterHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ChapterHandler{
		repo:           repo,
		publisher:      events.Nop{},
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ListChapters returns one filtered page of chapters
func (h *ChapterHandler) ListChapters(w http.ResponseWriter, r *http.Request) {
	filter, err := validation.ParseChapterFilter(r.URL.Query())
	if err != nil {
		apierror.Write(w, r, apierror.Wrap(apierror.KindValidation, err.Error(), err), h.logger)
		return
	}

	chapters, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		apierror.Write(w, r, fmt.Errorf("list chapters: %w", err), h.logger)
		return
	}
	if chapters == nil {
		chapters = []*models.Chapter{}
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + filter.Limit - 1) / filter.Limit
	}

	respondJSON(w, http.StatusOK, models.ChapterPage{
		Chapters:   chapters,
		Total:      total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: totalPages,
	})
}

// GetChapter returns a single chapter by id
func (h *ChapterHandler) GetChapter(w http.ResponseWriter, r *http.Request) {
	id, err := parseChapterID(mux.Vars(r)["id"])
	if err != nil {
		apierror.Write(w, r, err, h.logger)
		return
	}

	chapter, err := h.repo.GetByID(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		apierror.Write(w, r, apierror.NotFound("Chapter not found"), h.logger)
		return
	}
	if err != nil {
		apierror.Write(w, r, fmt.Errorf("get chapter %d: %w", id, err), h.logger)
		return
	}

	respondJSON(w, http.StatusOK, chapter)
}

func parseChapterID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, apierror.Validation("Chapter id must be a positive integer")
	}
	return id, nil
}

// CreateChapter inserts one chapter from a JSON body
func (h *ChapterHandler) CreateChapter(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, middleware.DefaultMaxRequestSize)

	var in models.ChapterInput
	if err := decodeJSON(r, &in); err != nil {
		if errors.Is(err, io.EOF) {
			err = apierror.Validation("Request body is required")
		}
		apierror.Write(w, r, bodyError(err, middleware.DefaultMaxRequestSize), h.logger)
		return
	}

	if err := validation.ValidateChapterInput(&in); err != nil {
		apierror.Write(w, r, apierror.ValidationFields("Validation failed", validation.FieldErrors(err)), h.logger)
		return
	}

	chapter := in.ToChapter()
	if err := h.repo.Create(r.Context(), chapter); err != nil {
		apierror.Write(w, r, fmt.Errorf("create chapter: %w", err), h.logger)
		return
	}

	h.afterWrite(r, events.TypeChapterCreated, chapter.ID)
	respondJSON(w, http.StatusCreated, chapter)
}

// afterWrite drops cached chapter responses and announces the change. Both run
// detached from the client so a disconnect does not leave stale cache entries.
func (h *ChapterHandler) afterWrite(r *http.Request, t events.Type, ids ...int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), sideEffectTimeout)
	defer cancel()

	if h.cache != nil {
		cleared, err := h.cache.Invalidate(ctx, ChaptersPath)
		if err != nil {
			h.logger.Warn("cache_invalidation_failed",
				zap.String("prefix", ChaptersPath),
				zap.String("error", logpkg.SanitizeError(err)),
			)
		} else {
			h.logger.Debug("cache_invalidated", zap.Int("cleared", len(cleared)))
		}
	}

	err := h.publisher.Publish(ctx, events.New(t, actor(r), ids...))
	if h.metrics != nil {
		h.metrics.ObserveEvent(string(t), err)
	}
	if err != nil {
		h.logger.Warn("event_publish_failed",
			zap.String("type", string(t)),
			zap.String("error", logpkg.SanitizeError(err)),
		)
	}
}
