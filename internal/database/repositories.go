package database

import (
	"context"

	"github.com/benvon/chapters-api/internal/models"
)

// ChapterStore defines the chapter persistence operations the handlers need.
// It lets handler tests run against an in-memory fake.
type ChapterStore interface {
	List(ctx context.Context, f models.ChapterFilter) ([]*models.Chapter, int, error)
	GetByID(ctx context.Context, id int64) (*models.Chapter, error)
	Create(ctx context.Context, c *models.Chapter) error
	BulkCreate(ctx context.Context, chapters []*models.Chapter) error
}

// Ensure concrete types implement the interfaces
var _ ChapterStore = (*ChapterRepository)(nil)
