package validation

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/benvon/chapters-api/internal/models"
	"github.com/go-playground/validator/v10"
)

const (
	// DefaultPage is used when the page parameter is absent
	DefaultPage = 1
	// DefaultLimit is used when the limit parameter is absent
	DefaultLimit = 10
	// MaxLimit caps the page size
	MaxLimit = 100
	// MaxOffset caps (page-1)*limit so the row offset never overflows
	MaxOffset = math.MaxInt32
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate

	yearPattern = regexp.MustCompile(`^(19|20)\d{2}$`)
)

func init() {
	Validate = validator.New()

	if err := Validate.RegisterValidation("chapter_status", validateChapterStatus); err != nil {
		panic(fmt.Sprintf("failed to register chapter_status validator: %v", err))
	}
	if err := Validate.RegisterValidation("year", validateYear); err != nil {
		panic(fmt.Sprintf("failed to register year validator: %v", err))
	}
}

func validateChapterStatus(fl validator.FieldLevel) bool {
	return ValidateChapterStatus(fl.Field().String()) == nil
}

func validateYear(fl validator.FieldLevel) bool {
	return yearPattern.MatchString(fl.Field().String())
}

// ValidateChapterStatus validates a ChapterStatus string value
func ValidateChapterStatus(value string) error {
	switch models.ChapterStatus(value) {
	case models.ChapterStatusNotStarted, models.ChapterStatusInProgress, models.ChapterStatusCompleted:
		return nil
	default:
		return fmt.Errorf("invalid status: %s (must be 'Not Started', 'In Progress', or 'Completed')", value)
	}
}

// SanitizeText trims whitespace and removes control characters except newline and tab
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// SanitizeChapterInput normalizes the free-text fields of in
func SanitizeChapterInput(in *models.ChapterInput) {
	in.Subject = SanitizeText(in.Subject)
	in.Chapter = SanitizeText(in.Chapter)
	in.Class = SanitizeText(in.Class)
	in.Unit = SanitizeText(in.Unit)
	in.Status = models.ChapterStatus(strings.TrimSpace(string(in.Status)))
}

// FieldErrors maps a validation failure to field name -> message. Nil when err is not a validation error.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[jsonFieldName(fe.Namespace())] = fieldMessage(fe)
	}
	return out
}

// jsonFieldName turns "ChapterInput.YearWiseQuestionCount[2019]" into "yearWiseQuestionCount[2019]"
func jsonFieldName(namespace string) string {
	_, field, found := strings.Cut(namespace, ".")
	if !found {
		field = namespace
	}
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param()
	case "chapter_status":
		return "must be 'Not Started', 'In Progress', or 'Completed'"
	case "year":
		return "must be a four-digit year"
	default:
		return "is invalid"
	}
}

// ValidateChapterInput sanitizes and validates in
func ValidateChapterInput(in *models.ChapterInput) error {
	SanitizeChapterInput(in)
	return Validate.Struct(in)
}

// ParseChapterFilter parses the listing query: class, unit, status, subject,
// weakChapters, page and limit. Blank values do not filter.
func ParseChapterFilter(q url.Values) (models.ChapterFilter, error) {
	f := models.ChapterFilter{Page: DefaultPage, Limit: DefaultLimit}

	text := func(name string) *string {
		v := SanitizeText(q.Get(name))
		if v == "" {
			return nil
		}
		return &v
	}
	f.Class = text("class")
	f.Unit = text("unit")
	f.Subject = text("subject")

	if s := text("status"); s != nil {
		if err := ValidateChapterStatus(*s); err != nil {
			return f, err
		}
		status := models.ChapterStatus(*s)
		f.Status = &status
	}

	if raw := strings.TrimSpace(q.Get("weakChapters")); raw != "" {
		weak, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("invalid weakChapters: %q (must be true or false)", raw)
		}
		f.WeakChapters = &weak
	}

	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return f, fmt.Errorf("invalid page: %q (must be a positive integer)", raw)
		}
		f.Page = page
	}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxLimit {
			return f, fmt.Errorf("invalid limit: %q (must be between 1 and %d)", raw, MaxLimit)
		}
		f.Limit = limit
	}

	if f.Page-1 > MaxOffset/f.Limit {
		return f, fmt.Errorf("invalid page: %d (must be at most %d with limit %d)", f.Page, MaxOffset/f.Limit+1, f.Limit)
	}

	return f, nil
}
