package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// DB wraps the Postgres connection pool
type DB struct {
	*sql.DB
}

// New opens a Postgres pool for databaseURL and verifies it answers
func New(ctx context.Context, databaseURL string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: sqlDB}, nil
}

// Wrap adapts an existing pool, e.g. one from sqlmock
func Wrap(sqlDB *sql.DB) *DB {
	return &DB{DB: sqlDB}
}

const schema = `
CREATE TABLE IF NOT EXISTS chapters (
	id BIGSERIAL PRIMARY KEY,
	subject TEXT NOT NULL,
	chapter TEXT NOT NULL,
	class TEXT NOT NULL,
	unit TEXT NOT NULL,
	year_wise_question_count JSONB NOT NULL DEFAULT '{}'::jsonb,
	question_solved INTEGER NOT NULL DEFAULT 0 CHECK (question_solved >= 0),
	status TEXT NOT NULL DEFAULT 'Not Started'
		CHECK (status IN ('Not Started', 'In Progress', 'Completed')),
	is_weak_chapter BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_chapters_class_unit ON chapters (class, unit);
CREATE INDEX IF NOT EXISTS idx_chapters_subject ON chapters (subject);
CREATE INDEX IF NOT EXISTS idx_chapters_status ON chapters (status);
`

// EnsureSchema creates the chapters table and its indexes when missing
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Ping checks the database answers within ctx
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}
