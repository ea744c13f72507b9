package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benvon/chapters-api/internal/models"
)

const chapterColumns = `id, subject, chapter, class, unit, year_wise_question_count, question_solved, status, is_weak_chapter, created_at, updated_at`

// ChapterRepository handles chapter database operations
type ChapterRepository struct {
	db  *DB
	now func() time.Time
}

// NewChapterRepository creates a new chapter repository
func NewChapterRepository(db *DB) *ChapterRepository {
	return &ChapterRepository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChapter(row rowScanner) (*models.Chapter, error) {
	c := &models.Chapter{}
	var countsJSON []byte
	var status string
	if err := row.Scan(
		&c.ID,
		&c.Subject,
		&c.Chapter,
		&c.Class,
		&c.Unit,
		&countsJSON,
		&c.QuestionSolved,
		&status,
		&c.IsWeakChapter,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Status = models.ChapterStatus(status)
	c.YearWiseQuestionCount = models.YearQuestionMap{}
	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &c.YearWiseQuestionCount); err != nil {
			return nil, fmt.Errorf("failed to unmarshal year_wise_question_count: %w", err)
		}
	}
	return c, nil
}

// filterClause builds the WHERE clause and its args for f
func filterClause(f models.ChapterFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Class != nil {
		add("class = $%d", *f.Class)
	}
	if f.Unit != nil {
		add("unit = $%d", *f.Unit)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.Subject != nil {
		add("subject = $%d", *f.Subject)
	}
	if f.WeakChapters != nil {
		add("is_weak_chapter = $%d", *f.WeakChapters)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of chapters matching f and the total number of matches
func (r *ChapterRepository) List(ctx context.Context, f models.ChapterFilter) ([]*models.Chapter, int, error) {
	where, args := filterClause(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chapters"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count chapters: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM chapters%s ORDER BY id ASC LIMIT $%d OFFSET $%d",
		chapterColumns, where, len(args)+1, len(args)+2)
	pageArgs := append(append([]any{}, args...), f.Limit, f.Offset())

	rows, err := r.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query chapters: %w", err)
	}
	defer rows.Close()

	chapters := make([]*models.Chapter, 0, f.Limit)
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan chapter: %w", err)
		}
		chapters = append(chapters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating chapters: %w", err)
	}

	return chapters, total, nil
}

// GetByID retrieves a chapter by ID
func (r *ChapterRepository) GetByID(ctx context.Context, id int64) (*models.Chapter, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+chapterColumns+" FROM chapters WHERE id = $1", id)
	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chapter %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return c, nil
}

const insertChapter = `
	INSERT INTO chapters (subject, chapter, class, unit, year_wise_question_count, question_solved, status, is_weak_chapter, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	RETURNING id, created_at, updated_at
`

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ChapterRepository) insert(ctx context.Context, q queryRower, c *models.Chapter) error {
	countsJSON, err := json.Marshal(c.YearWiseQuestionCount)
	if err != nil {
		return fmt.Errorf("failed to marshal year_wise_question_count: %w", err)
	}
	return q.QueryRowContext(ctx, insertChapter,
		c.Subject,
		c.Chapter,
		c.Class,
		c.Unit,
		countsJSON,
		c.QuestionSolved,
		string(c.Status),
		c.IsWeakChapter,
		r.now().UTC(),
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// Create inserts c and fills in its ID and timestamps
func (r *ChapterRepository) Create(ctx context.Context, c *models.Chapter) error {
	if err := r.insert(ctx, r.db, c); err != nil {
		return fmt.Errorf("failed to create chapter: %w", err)
	}
	return nil
}

// BulkCreate inserts all chapters in one transaction. Either all are stored or none.
func (r *ChapterRepository) BulkCreate(ctx context.Context, chapters []*models.Chapter) (err error) {
	if len(chapters) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	for i, c := range chapters {
		if err = r.insert(ctx, tx, c); err != nil {
			return fmt.Errorf("failed to insert chapter %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chapters: %w", err)
	}
	return nil
}
