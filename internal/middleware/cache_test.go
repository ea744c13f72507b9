package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benvon/chapters-api/internal/cache"
	"github.com/benvon/chapters-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// countingHandler renders a chapter body and counts executions
type countingHandler struct {
	calls  atomic.Int32
	status int
	gate   chan struct{}
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls.Add(1)
	if h.gate != nil {
		<-h.gate
	}
	status := h.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"success":true,"data":{"id":42,"chapter":"Kinematics"}}`))
}

func newTestResponseCache(st store.Store) *ResponseCache {
	return NewResponseCache(cache.New(st), time.Hour, nil, zap.NewNop())
}

func TestResponseCache_MissThenHit(t *testing.T) {
	t.Parallel()

	h := &countingHandler{}
	mw := newTestResponseCache(store.NewMemoryStore()).Middleware(h)

	first := httptest.NewRecorder()
	mw.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/chapters/42", nil))
	second := httptest.NewRecorder()
	mw.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/chapters/42", nil))

	assert.Equal(t, int32(1), h.calls.Load())
	assert.Equal(t, "MISS", first.Header().Get(CacheHeader))
	assert.Equal(t, "HIT", second.Header().Get(CacheHeader))
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestResponseCache_QueryOrderSharesEntry(t *testing.T) {
	t.Parallel()

	h := &countingHandler{}
	mw := newTestResponseCache(store.NewMemoryStore()).Middleware(h)

	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/chapters?class=11&unit=2", nil))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chapters?unit=2&class=11", nil))

	assert.Equal(t, int32(1), h.calls.Load())
	assert.Equal(t, "HIT", rec.Header().Get(CacheHeader))
}

func TestResponseCache_SkipsNonSuccess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"bad request", http.StatusBadRequest},
		{"server error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := store.NewMemoryStore()
			h := &countingHandler{status: tt.status}
			mw := newTestResponseCache(st).Middleware(h)

			for range 2 {
				rec := httptest.NewRecorder()
				mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chapters/9", nil))
				assert.Equal(t, tt.status, rec.Code)
			}
			assert.Equal(t, int32(2), h.calls.Load())

			keys, err := st.Keys(t.Context(), cache.KeyPrefix)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestResponseCache_IgnoresWrites(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	h := &countingHandler{}
	mw := newTestResponseCache(st).Middleware(h)

	for range 2 {
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/chapters", nil))
		assert.Empty(t, rec.Header().Get(CacheHeader))
	}
	assert.Equal(t, int32(2), h.calls.Load())
}

func TestResponseCache_HeadServedFromEntry(t *testing.T) {
	t.Parallel()

	h := &countingHandler{}
	mw := newTestResponseCache(store.NewMemoryStore()).Middleware(h)

	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/chapters/42", nil))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/api/v1/chapters/42", nil))

	assert.Equal(t, "HIT", rec.Header().Get(CacheHeader))
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestResponseCache_BypassOnStoreFailure(t *testing.T) {
	t.Parallel()

	h := &countingHandler{}
	mw := newTestResponseCache(downStore{store.NewMemoryStore()}).Middleware(h)

	for range 2 {
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chapters/42", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get(CacheHeader))
	}
	assert.Equal(t, int32(2), h.calls.Load())
}

func TestResponseCache_CollapsesConcurrentMisses(t *testing.T) {
	t.Parallel()

	h := &countingHandler{gate: make(chan struct{})}
	mw := newTestResponseCache(store.NewMemoryStore()).Middleware(h)

	const n = 8
	var wg sync.WaitGroup
	recs := make([]*httptest.ResponseRecorder, n)
	for i := range n {
		recs[i] = httptest.NewRecorder()
		wg.Add(1)
		go func() {
			defer wg.Done()
			mw.ServeHTTP(recs[i], httptest.NewRequest(http.MethodGet, "/api/v1/chapters/42", nil))
		}()
	}

	require.Eventually(t, func() bool { return h.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(h.gate)
	wg.Wait()

	// Late arrivals after the leader finished are served as hits, so at most
	// one execution happens either way.
	assert.Equal(t, int32(1), h.calls.Load())
	for _, rec := range recs {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, recs[0].Body.String(), rec.Body.String())
	}
}

func TestResponseCache_FillSurvivesLeaderDisconnect(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		if r.Context().Err() != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mw := newTestResponseCache(st).Middleware(h)

	ctx, cancel := context.WithCancel(context.Background())
	leader := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		mw.ServeHTTP(leader, httptest.NewRequest(http.MethodGet, "/api/v1/chapters", nil).WithContext(ctx))
	}()

	<-entered
	cancel()
	close(release)
	<-done

	assert.Equal(t, http.StatusOK, leader.Code)
	keys, err := st.Keys(t.Context(), cache.KeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:/api/v1/chapters"}, keys)
}

func TestResponseCache_InvalidationDuringFillDiscardsEntry(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	c := cache.New(st)
	rc := NewResponseCache(c, time.Hour, nil, zap.NewNop())

	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The first render reads old rows, then a create commits and invalidates
		if calls.Add(1) == 1 {
			_, err := c.Invalidate(r.Context(), "/api/v1/chapters")
			require.NoError(t, err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mw := rc.Middleware(h)

	first := httptest.NewRecorder()
	mw.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/chapters", nil))
	assert.Equal(t, "MISS", first.Header().Get(CacheHeader))

	second := httptest.NewRecorder()
	mw.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/chapters", nil))
	assert.Equal(t, "MISS", second.Header().Get(CacheHeader), "the racing fill must not be served")

	third := httptest.NewRecorder()
	mw.ServeHTTP(third, httptest.NewRequest(http.MethodGet, "/api/v1/chapters", nil))
	assert.Equal(t, "HIT", third.Header().Get(CacheHeader))
	assert.Equal(t, int32(2), calls.Load())
}
