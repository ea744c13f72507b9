package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/benvon/chapters-api/internal/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) apierror.Response {
	t.Helper()
	var body apierror.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestErrorHandler_NoPanic(t *testing.T) {
	t.Parallel()

	h := ErrorHandler(zap.NewNop(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestErrorHandler_PanicRecovery(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	var panics atomic.Int32
	h := ErrorHandler(zap.New(core), func() { panics.Add(1) })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("secret connection string")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeEnvelope(t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "Internal Server Error", body.Error)
	assert.Equal(t, "An unexpected error occurred", body.Message)
	assert.Equal(t, "/test", body.Path)
	assert.NotEmpty(t, body.Timestamp)
	assert.NotContains(t, rec.Body.String(), "secret")

	assert.Equal(t, int32(1), panics.Load())
	assert.Equal(t, 1, logs.FilterMessage("panic_recovered").Len())
}

func TestErrorHandler_AbortHandlerPropagates(t *testing.T) {
	t.Parallel()

	h := ErrorHandler(zap.NewNop(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NotFound().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "Not Found", body.Error)
	assert.Equal(t, "/nope", body.Path)
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	MethodNotAllowed().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/chapters/42", nil))

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "Method Not Allowed", body.Error)
	assert.Equal(t, "Method DELETE not allowed", body.Message)
	assert.Equal(t, "/api/v1/chapters/42", body.Path)
}
