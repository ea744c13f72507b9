// Package events publishes chapter change notifications.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names an event; it doubles as the AMQP routing key
type Type string

const (
	// TypeChapterCreated follows a single create
	TypeChapterCreated Type = "chapter.created"
	// TypeChaptersUploaded follows a bulk upload
	TypeChaptersUploaded Type = "chapters.uploaded"
)

// Event is one notification
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	ChapterIDs []int64   `json:"chapterIds"`
	Actor      string    `json:"actor,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// New creates an event for the given chapters
func New(t Type, actor string, chapterIDs ...int64) *Event {
	return &Event{
		ID:         uuid.New(),
		Type:       t,
		ChapterIDs: chapterIDs,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
	// HealthCheck verifies the broker connection is usable
	HealthCheck(ctx context.Context) error
	Close() error
}

// Nop discards events; used when no broker is configured
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }
func (Nop) HealthCheck(context.Context) error     { return nil }
func (Nop) Close() error                          { return nil }
