package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benvon/chapters-api/internal/apierror"
	"github.com/benvon/chapters-api/internal/cache"
	"github.com/benvon/chapters-api/internal/events"
	"github.com/benvon/chapters-api/internal/models"
	"github.com/benvon/chapters-api/internal/request"
	"github.com/benvon/chapters-api/internal/store"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var body struct {
		Success bool `json:"success"`
		Data    T    `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.True(t, body.Success)
	return body.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apierror.Response {
	t.Helper()
	var body apierror.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.False(t, body.Success)
	return body
}

func TestListChapters(t *testing.T) {
	t.Parallel()

	seed := func() *fakeRepo {
		return newFakeRepo(
			sampleChapter(1, "Class 11", models.ChapterStatusCompleted, false),
			sampleChapter(2, "Class 11", models.ChapterStatusNotStarted, true),
			sampleChapter(3, "Class 12", models.ChapterStatusInProgress, true),
		)
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIDs    []int64
		wantTotal  int
		wantPages  int
	}{
		{name: "all", wantStatus: http.StatusOK, wantIDs: []int64{1, 2, 3}, wantTotal: 3, wantPages: 1},
		{name: "by class", query: "?class=Class+11", wantStatus: http.StatusOK, wantIDs: []int64{1, 2}, wantTotal: 2, wantPages: 1},
		{name: "weak only", query: "?weakChapters=true", wantStatus: http.StatusOK, wantIDs: []int64{2, 3}, wantTotal: 2, wantPages: 1},
		{name: "by status", query: "?status=In+Progress", wantStatus: http.StatusOK, wantIDs: []int64{3}, wantTotal: 1, wantPages: 1},
		{name: "second page", query: "?page=2&limit=2", wantStatus: http.StatusOK, wantIDs: []int64{3}, wantTotal: 3, wantPages: 2},
		{name: "bad status", query: "?status=Done", wantStatus: http.StatusBadRequest},
		{name: "bad limit", query: "?limit=1000", wantStatus: http.StatusBadRequest},
		{name: "bad weak flag", query: "?weakChapters=maybe", wantStatus: http.StatusBadRequest},
		{name: "page beyond offset range", query: "?page=9223372036854775807&limit=10", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewChapterHandler(seed(), zap.NewNop())
			rec := httptest.NewRecorder()
			h.ListChapters(rec, httptest.NewRequest(http.MethodGet, ChaptersPath+tt.query, nil))

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, "Bad Request", decodeError(t, rec).Error)
				return
			}

			page := decodeData[models.ChapterPage](t, rec)
			ids := make([]int64, 0, len(page.Chapters))
			for _, c := range page.Chapters {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantTotal, page.Total)
			assert.Equal(t, tt.wantPages, page.TotalPages)
		})
	}
}

func TestListChapters_EmptyIsArray(t *testing.T) {
	t.Parallel()

	h := NewChapterHandler(newFakeRepo(), zap.NewNop())
	rec := httptest.NewRecorder()
	h.ListChapters(rec, httptest.NewRequest(http.MethodGet, ChaptersPath, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chapters":[]`)
	assert.Contains(t, rec.Body.String(), `"totalPages":0`)
}

func TestListChapters_RepositoryFailure(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.err = errDB
	h := NewChapterHandler(repo, zap.NewNop())
	rec := httptest.NewRecorder()
	h.ListChapters(rec, httptest.NewRequest(http.MethodGet, ChaptersPath, nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "An unexpected error occurred", body.Message)
	assert.NotContains(t, rec.Body.String(), "pq:")
}

func TestGetChapter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		id         string
		repoErr    error
		wantStatus int
	}{
		{name: "found", id: "42", wantStatus: http.StatusOK},
		{name: "missing", id: "7", wantStatus: http.StatusNotFound},
		{name: "not a number", id: "abc", wantStatus: http.StatusBadRequest},
		{name: "zero", id: "0", wantStatus: http.StatusBadRequest},
		{name: "repository failure", id: "42", repoErr: errDB, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := newFakeRepo(sampleChapter(42, "Class 11", models.ChapterStatusCompleted, false))
			repo.err = tt.repoErr
			h := NewChapterHandler(repo, zap.NewNop())

			req := httptest.NewRequest(http.MethodGet, ChaptersPath+"/"+tt.id, nil)
			req = mux.SetURLVars(req, map[string]string{"id": tt.id})
			rec := httptest.NewRecorder()
			h.GetChapter(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				c := decodeData[models.Chapter](t, rec)
				assert.Equal(t, int64(42), c.ID)
				assert.Equal(t, 5, c.YearWiseQuestionCount.Total())
			}
		})
	}
}

func TestCreateChapter(t *testing.T) {
	t.Parallel()

	valid := `{"subject":"Physics","chapter":"Kinematics","class":"Class 11","unit":"Mechanics",` +
		`"yearWiseQuestionCount":{"2019":3,"2020":1},"questionSolved":2,"isWeakChapter":true}`

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantFields []string
	}{
		{name: "valid", body: valid, wantStatus: http.StatusCreated},
		{name: "empty body", body: "", wantStatus: http.StatusBadRequest},
		{name: "malformed", body: `{"subject":`, wantStatus: http.StatusBadRequest},
		{name: "missing fields", body: `{"subject":"Physics"}`, wantStatus: http.StatusBadRequest, wantFields: []string{"chapter", "class", "unit"}},
		{name: "bad status", body: strings.Replace(valid, `"questionSolved":2`, `"questionSolved":2,"status":"Done"`, 1), wantStatus: http.StatusBadRequest, wantFields: []string{"status"}},
		{name: "negative solved", body: strings.Replace(valid, `"questionSolved":2`, `"questionSolved":-1`, 1), wantStatus: http.StatusBadRequest, wantFields: []string{"questionSolved"}},
		{name: "bad year key", body: strings.Replace(valid, `"2019":3`, `"19":3`, 1), wantStatus: http.StatusBadRequest, wantFields: []string{"yearWiseQuestionCount[19]"}},
		{name: "too large", body: `{"subject":"` + strings.Repeat("a", 2<<20) + `"}`, wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := newFakeRepo()
			pub := &recordingPublisher{}
			h := NewChapterHandler(repo, zap.NewNop(), WithPublisher(pub))

			req := httptest.NewRequest(http.MethodPost, ChaptersPath, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req = req.WithContext(request.WithPrincipal(req.Context(), &request.Principal{Subject: "ops@example.com", Role: "admin"}))
			rec := httptest.NewRecorder()
			h.CreateChapter(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusCreated {
				body := decodeError(t, rec)
				for _, f := range tt.wantFields {
					assert.Contains(t, body.Details, f)
				}
				assert.Zero(t, repo.count("Create"))
				assert.Empty(t, pub.events)
				return
			}

			c := decodeData[models.Chapter](t, rec)
			assert.Equal(t, int64(1), c.ID)
			assert.Equal(t, models.ChapterStatusNotStarted, c.Status)
			assert.True(t, c.IsWeakChapter)

			require.Len(t, pub.events, 1)
			assert.Equal(t, events.TypeChapterCreated, pub.events[0].Type)
			assert.Equal(t, []int64{1}, pub.events[0].ChapterIDs)
			assert.Equal(t, "ops@example.com", pub.events[0].Actor)
		})
	}
}

func TestCreateChapter_InvalidatesCache(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	c := cache.New(st)
	ctx := t.Context()
	entry := cache.Entry{Status: http.StatusOK, ContentType: "application/json", Body: []byte(`{}`)}
	require.NoError(t, c.Set(ctx, cache.KeyFor(ChaptersPath, nil), entry, time.Hour))
	require.NoError(t, c.Set(ctx, cache.KeyFor(ChaptersPath+"/1", nil), entry, time.Hour))
	require.NoError(t, st.Set(ctx, "rate_limit:general:1.2.3.4", []byte("1"), time.Hour))

	h := NewChapterHandler(newFakeRepo(), zap.NewNop(), WithCache(c))
	body := `{"subject":"Chemistry","chapter":"Mole Concept","class":"Class 11","unit":"Physical"}`
	req := httptest.NewRequest(http.MethodPost, ChaptersPath, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CreateChapter(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	keys, err := st.Keys(ctx, cache.KeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)

	limitKeys, err := st.Keys(ctx, "rate_limit:")
	require.NoError(t, err)
	assert.Len(t, limitKeys, 1)
}

func TestCreateChapter_PublishFailureDoesNotFailRequest(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{err: errors.New("channel closed")}
	h := NewChapterHandler(newFakeRepo(), zap.NewNop(), WithPublisher(pub))
	body := `{"subject":"Chemistry","chapter":"Mole Concept","class":"Class 11","unit":"Physical"}`
	rec := httptest.NewRecorder()
	h.CreateChapter(rec, httptest.NewRequest(http.MethodPost, ChaptersPath, strings.NewReader(body)))

	assert.Equal(t, http.StatusCreated, rec.Code)
}
