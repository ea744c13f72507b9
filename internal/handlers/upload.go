package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/benvon/chapters-api/internal/apierror"
	"github.com/benvon/chapters-api/internal/chapterfile"
	"github.com/benvon/chapters-api/internal/events"
	"github.com/benvon/chapters-api/internal/middleware"
	"github.com/benvon/chapters-api/internal/models"
	"github.com/benvon/chapters-api/internal/validation"
)

// UploadField is the multipart field carrying the chapter file
const UploadField = "file"

// multipart framing allowance on top of the file limit
const multipartOverhead int64 = 64 << 10

// UploadFailure reports why one record of an upload was rejected
type UploadFailure struct {
	Index  int               `json:"index"`
	Errors map[string]string `json:"errors"`
}

// UploadResult summarizes a bulk upload
type UploadResult struct {
	Inserted int               `json:"inserted"`
	Failed   []UploadFailure   `json:"failed"`
	Chapters []*models.Chapter `json:"chapters"`
}

// UploadChapters bulk-inserts chapters from a JSON or YAML file. Valid records
// are inserted together; invalid ones are reported by index.
func (h *ChapterHandler) UploadChapters(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		if middleware.IsTooLarge(err) {
			apierror.Write(w, r, middleware.PayloadTooLarge(h.maxUploadBytes), h.logger)
			return
		}
		apierror.Write(w, r, apierror.Wrap(apierror.KindValidation,
			"Upload must be multipart/form-data with a '"+UploadField+"' field", err), h.logger)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(UploadField)
	if err != nil {
		apierror.Write(w, r, apierror.Validation("A file in the '"+UploadField+"' field is required"), h.logger)
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > h.maxUploadBytes {
		apierror.Write(w, r, middleware.PayloadTooLarge(h.maxUploadBytes), h.logger)
		return
	}

	if _, err := chapterfile.FormatFor(header.Filename); err != nil {
		apierror.Write(w, r, apierror.Validation("Only .json, .yaml and .yml files are accepted"), h.logger)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		apierror.Write(w, r, fmt.Errorf("read upload: %w", err), h.logger)
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		apierror.Write(w, r, middleware.PayloadTooLarge(h.maxUploadBytes), h.logger)
		return
	}

	records, err := chapterfile.Parse(header.Filename, data)
	if err != nil {
		apierror.Write(w, r, fileError(err), h.logger)
		return
	}

	result := UploadResult{Failed: []UploadFailure{}}
	var valid []*models.Chapter
	for i, rec := range records {
		if rec.Err != nil {
			result.Failed = append(result.Failed, UploadFailure{Index: i, Errors: map[string]string{"record": rec.Err.Error()}})
			continue
		}
		in := rec.Input
		if err := validation.ValidateChapterInput(&in); err != nil {
			result.Failed = append(result.Failed, UploadFailure{Index: i, Errors: validation.FieldErrors(err)})
			continue
		}
		valid = append(valid, in.ToChapter())
	}

	if len(valid) == 0 {
		apierror.Write(w, r, apierror.ValidationFields("No valid chapters in upload", flattenFailures(result.Failed)), h.logger)
		return
	}

	if err := h.repo.BulkCreate(r.Context(), valid); err != nil {
		apierror.Write(w, r, fmt.Errorf("bulk create chapters: %w", err), h.logger)
		return
	}

	ids := make([]int64, len(valid))
	for i, c := range valid {
		ids[i] = c.ID
	}
	h.afterWrite(r, events.TypeChaptersUploaded, ids...)

	result.Inserted = len(valid)
	result.Chapters = valid
	respondJSON(w, http.StatusCreated, result)
}

func fileError(err error) error {
	switch {
	case errors.Is(err, chapterfile.ErrMalformed):
		return apierror.Wrap(apierror.KindValidation, "File must contain a list of chapters", err)
	case errors.Is(err, chapterfile.ErrEmpty):
		return apierror.Validation("File contains no chapters")
	case errors.Is(err, chapterfile.ErrTooManyRecords):
		return apierror.Validation("File contains more than " + strconv.Itoa(chapterfile.MaxRecords) + " chapters")
	default:
		return apierror.Wrap(apierror.KindValidation, "Unreadable chapter file", err)
	}
}

// flattenFailures keys each field error by its record index, e.g. "[2].subject"
func flattenFailures(failed []UploadFailure) map[string]string {
	out := make(map[string]string)
	for _, f := range failed {
		for field, msg := range f.Errors {
			out["["+strconv.Itoa(f.Index)+"]."+field] = msg
		}
	}
	return out
}
