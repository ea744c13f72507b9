package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_Scrape(t *testing.T) {
	t.Parallel()

	m := New()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"http_inflight_requests", "http_panic_total", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("metric %q not found in /metrics output", name)
		}
	}
}

func TestRateLimitCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRateLimit("general", true)
	m.ObserveRateLimit("general", true)
	m.ObserveRateLimit("general", false)
	m.IncRateLimitDegraded("upload")

	if got := testutil.ToFloat64(m.decisions.WithLabelValues("general", "allowed")); got != 2 {
		t.Errorf("allowed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.decisions.WithLabelValues("general", "denied")); got != 1 {
		t.Errorf("denied = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.degraded.WithLabelValues("upload")); got != 1 {
		t.Errorf("degraded = %v, want 1", got)
	}
}

func TestCacheAndEventCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveCache(CacheHit)
	m.ObserveCache(CacheMiss)
	m.ObserveCache(CacheHit)
	m.ObserveEvent("chapter.created", nil)
	m.ObserveEvent("chapter.created", errors.New("closed"))

	if got := testutil.ToFloat64(m.cache.WithLabelValues(CacheHit)); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues("chapter.created", "error")); got != 1 {
		t.Errorf("event errors = %v, want 1", got)
	}
}

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	t.Parallel()

	m := New()
	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/api/v1/chapters/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"1", "2", "3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/chapters/"+id, nil))
	}

	if got := testutil.ToFloat64(m.reqTotal.WithLabelValues("GET", "/api/v1/chapters/{id}", "404")); got != 3 {
		t.Errorf("requests = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.inflight); got != 0 {
		t.Errorf("inflight = %v, want 0", got)
	}
}
