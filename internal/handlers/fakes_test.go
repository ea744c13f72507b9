package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benvon/chapters-api/internal/database"
	"github.com/benvon/chapters-api/internal/events"
	"github.com/benvon/chapters-api/internal/models"
)

// fakeRepo is an in-memory ChapterStore
type fakeRepo struct {
	mu       sync.Mutex
	chapters []*models.Chapter
	nextID   int64
	err      error
	calls    map[string]int
	filters  []models.ChapterFilter
}

func newFakeRepo(seed ...*models.Chapter) *fakeRepo {
	r := &fakeRepo{nextID: 1, calls: map[string]int{}}
	for _, c := range seed {
		r.chapters = append(r.chapters, c)
		if c.ID >= r.nextID {
			r.nextID = c.ID + 1
		}
	}
	return r
}

func (r *fakeRepo) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *fakeRepo) List(_ context.Context, f models.ChapterFilter) ([]*models.Chapter, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["List"]++
	r.filters = append(r.filters, f)
	if r.err != nil {
		return nil, 0, r.err
	}

	var matched []*models.Chapter
	for _, c := range r.chapters {
		if f.Class != nil && c.Class != *f.Class {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.WeakChapters != nil && c.IsWeakChapter != *f.WeakChapters {
			continue
		}
		matched = append(matched, c)
	}
	start := min(f.Offset(), len(matched))
	end := min(start+f.Limit, len(matched))
	return matched[start:end], len(matched), nil
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (*models.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["GetByID"]++
	if r.err != nil {
		return nil, r.err
	}
	for _, c := range r.chapters {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *fakeRepo) insertLocked(c *models.Chapter) {
	c.ID = r.nextID
	r.nextID++
	c.CreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.UpdatedAt = c.CreatedAt
	r.chapters = append(r.chapters, c)
}

func (r *fakeRepo) Create(_ context.Context, c *models.Chapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Create"]++
	if r.err != nil {
		return r.err
	}
	r.insertLocked(c)
	return nil
}

func (r *fakeRepo) BulkCreate(_ context.Context, chapters []*models.Chapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["BulkCreate"]++
	if r.err != nil {
		return r.err
	}
	for _, c := range chapters {
		r.insertLocked(c)
	}
	return nil
}

// recordingPublisher keeps published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) HealthCheck(context.Context) error { return nil }
func (p *recordingPublisher) Close() error                      { return nil }

var errDB = errors.New("pq: connection reset by peer")

func sampleChapter(id int64, class string, status models.ChapterStatus, weak bool) *models.Chapter {
	return &models.Chapter{
		ID:                    id,
		Subject:               "Physics",
		Chapter:               "Chapter " + class,
		Class:                 class,
		Unit:                  "Mechanics",
		YearWiseQuestionCount: models.YearQuestionMap{"2019": 2, "2020": 3},
		QuestionSolved:        4,
		Status:                status,
		IsWeakChapter:         weak,
	}
}
