package models

import (
	"time"
)

// ChapterStatus is the study progress of a chapter
type ChapterStatus string

const (
	ChapterStatusNotStarted ChapterStatus = "Not Started"
	ChapterStatusInProgress ChapterStatus = "In Progress"
	ChapterStatusCompleted  ChapterStatus = "Completed"
)

// ChapterStatuses lists the valid statuses in display order
var ChapterStatuses = []ChapterStatus{ChapterStatusNotStarted, ChapterStatusInProgress, ChapterStatusCompleted}

// Chapter is one syllabus chapter with its practice statistics
type Chapter struct {
	ID                    int64           `json:"id"`
	Subject               string          `json:"subject"`
	Chapter               string          `json:"chapter"`
	Class                 string          `json:"class"`
	Unit                  string          `json:"unit"`
	YearWiseQuestionCount YearQuestionMap `json:"yearWiseQuestionCount"`
	QuestionSolved        int             `json:"questionSolved"`
	Status                ChapterStatus   `json:"status"`
	IsWeakChapter         bool            `json:"isWeakChapter"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// ChapterInput is the client-supplied body of a create request or one upload record
type ChapterInput struct {
	Subject               string          `json:"subject" yaml:"subject" validate:"required,max=200"`
	Chapter               string          `json:"chapter" yaml:"chapter" validate:"required,max=300"`
	Class                 string          `json:"class" yaml:"class" validate:"required,max=50"`
	Unit                  string          `json:"unit" yaml:"unit" validate:"required,max=200"`
	YearWiseQuestionCount YearQuestionMap `json:"yearWiseQuestionCount" yaml:"yearWiseQuestionCount" validate:"dive,keys,year,endkeys,min=0"`
	QuestionSolved        int             `json:"questionSolved" yaml:"questionSolved" validate:"min=0"`
	Status                ChapterStatus   `json:"status" yaml:"status" validate:"omitempty,chapter_status"`
	IsWeakChapter         bool            `json:"isWeakChapter" yaml:"isWeakChapter"`
}

// ToChapter converts validated input to a chapter ready to insert
func (in ChapterInput) ToChapter() *Chapter {
	status := in.Status
	if status == "" {
		status = ChapterStatusNotStarted
	}
	counts := in.YearWiseQuestionCount
	if counts == nil {
		counts = YearQuestionMap{}
	}
	return &Chapter{
		Subject:               in.Subject,
		Chapter:               in.Chapter,
		Class:                 in.Class,
		Unit:                  in.Unit,
		YearWiseQuestionCount: counts,
		QuestionSolved:        in.QuestionSolved,
		Status:                status,
		IsWeakChapter:         in.IsWeakChapter,
	}
}

// ChapterFilter narrows a chapter listing. Nil fields do not filter.
type ChapterFilter struct {
	Class        *string
	Unit         *string
	Status       *ChapterStatus
	Subject      *string
	WeakChapters *bool
	Page         int
	Limit        int
}

// Offset returns the row offset of the filter's page
func (f ChapterFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// ChapterPage is one page of a listing
type ChapterPage struct {
	Chapters   []*Chapter `json:"chapters"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalPages int        `json:"totalPages"`
}
