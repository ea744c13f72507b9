package validation

import (
	"net/url"
	"strconv"
	"testing"

	"github.com/benvon/chapters-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() models.ChapterInput {
	return models.ChapterInput{
		Subject:               "Physics",
		Chapter:               "Laws of Motion",
		Class:                 "Class 11",
		Unit:                  "Mechanics 1",
		YearWiseQuestionCount: models.YearQuestionMap{"2019": 2, "2024": 5},
		QuestionSolved:        7,
		Status:                models.ChapterStatusCompleted,
	}
}

func TestValidateChapterInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*models.ChapterInput)
		wantField string
	}{
		{name: "valid", mutate: func(*models.ChapterInput) {}},
		{name: "empty status defaults later", mutate: func(in *models.ChapterInput) { in.Status = "" }},
		{name: "missing subject", mutate: func(in *models.ChapterInput) { in.Subject = "   " }, wantField: "subject"},
		{name: "missing chapter", mutate: func(in *models.ChapterInput) { in.Chapter = "" }, wantField: "chapter"},
		{name: "bad status", mutate: func(in *models.ChapterInput) { in.Status = "Done" }, wantField: "status"},
		{name: "negative solved", mutate: func(in *models.ChapterInput) { in.QuestionSolved = -1 }, wantField: "questionSolved"},
		{name: "bad year key", mutate: func(in *models.ChapterInput) { in.YearWiseQuestionCount["last year"] = 1 }, wantField: "yearWiseQuestionCount[last year]"},
		{name: "negative count", mutate: func(in *models.ChapterInput) { in.YearWiseQuestionCount["2020"] = -3 }, wantField: "yearWiseQuestionCount[2020]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := validInput()
			tt.mutate(&in)
			err := ValidateChapterInput(&in)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			fields := FieldErrors(err)
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestValidateChapterInput_Sanitizes(t *testing.T) {
	t.Parallel()

	in := validInput()
	in.Subject = "  Phys\x00ics \n"
	in.Status = " In Progress "
	require.NoError(t, ValidateChapterInput(&in))
	assert.Equal(t, "Physics", in.Subject)
	assert.Equal(t, models.ChapterStatusInProgress, in.Status)
}

func TestFieldErrors_NotValidation(t *testing.T) {
	t.Parallel()
	assert.Nil(t, FieldErrors(assert.AnError))
}

func TestParseChapterFilter(t *testing.T) {
	t.Parallel()

	f, err := ParseChapterFilter(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPage, f.Page)
	assert.Equal(t, DefaultLimit, f.Limit)
	assert.Nil(t, f.Class)
	assert.Nil(t, f.Status)
	assert.Nil(t, f.WeakChapters)

	q := url.Values{
		"class":        {"Class 12"},
		"unit":         {"Optics"},
		"status":       {"Not Started"},
		"subject":      {"Physics"},
		"weakChapters": {"true"},
		"page":         {"3"},
		"limit":        {"100"},
	}
	f, err = ParseChapterFilter(q)
	require.NoError(t, err)
	assert.Equal(t, "Class 12", *f.Class)
	assert.Equal(t, "Optics", *f.Unit)
	assert.Equal(t, models.ChapterStatusNotStarted, *f.Status)
	assert.Equal(t, "Physics", *f.Subject)
	assert.True(t, *f.WeakChapters)
	assert.Equal(t, 3, f.Page)
	assert.Equal(t, 100, f.Limit)
}

func TestParseChapterFilter_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]url.Values{
		"status":               {"status": {"Finished"}},
		"weakChapters":         {"weakChapters": {"maybe"}},
		"page zero":            {"page": {"0"}},
		"page text":            {"page": {"two"}},
		"limit zero":           {"limit": {"0"}},
		"limit over":           {"limit": {"101"}},
		"page overflow":        {"page": {"9223372036854775807"}, "limit": {"10"}},
		"page past max offset": {"page": {"214748366"}, "limit": {"10"}},
	}
	for name, q := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseChapterFilter(q)
			assert.Error(t, err)
		})
	}
}

func TestParseChapterFilter_LastPage(t *testing.T) {
	t.Parallel()

	last := MaxOffset/MaxLimit + 1
	f, err := ParseChapterFilter(url.Values{"page": {strconv.Itoa(last)}, "limit": {strconv.Itoa(MaxLimit)}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, f.Offset(), 0)
	assert.LessOrEqual(t, f.Offset(), MaxOffset)

	_, err = ParseChapterFilter(url.Values{"page": {strconv.Itoa(last + 1)}, "limit": {strconv.Itoa(MaxLimit)}})
	assert.Error(t, err)
}

func TestSanitizeText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a\tb\nc", SanitizeText("  a\tb\nc\x07 "))
}
