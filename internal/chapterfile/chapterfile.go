// Package chapterfile decodes bulk chapter files (a JSON array or a YAML list).
package chapterfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/benvon/chapters-api/internal/models"
	"gopkg.in/yaml.v3"
)

// MaxRecords bounds the chapters accepted from one file
const MaxRecords = 5000

var (
	// ErrUnsupportedFormat is returned for extensions other than .json, .yaml and .yml
	ErrUnsupportedFormat = errors.New("only .json, .yaml and .yml files are accepted")
	// ErrMalformed is returned when the file is not a list
	ErrMalformed = errors.New("file must contain a list of chapters")
	// ErrEmpty is returned for an empty list
	ErrEmpty = errors.New("file contains no chapters")
	// ErrTooManyRecords is returned when the list exceeds MaxRecords
	ErrTooManyRecords = fmt.Errorf("file contains more than %d chapters", MaxRecords)
)

// Format is a supported file encoding
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the format from a file name's extension
func FormatFor(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, ErrUnsupportedFormat
	}
}

// Record is one list element. Err is set when the element does not decode as a chapter.
type Record struct {
	Input models.ChapterInput
	Err   error
}

// Parse decodes data according to filename's extension. Each element is
// decoded on its own so one malformed record does not reject the rest.
func Parse(filename string, data []byte) ([]Record, error) {
	format, err := FormatFor(filename)
	if err != nil {
		return nil, err
	}

	var records []Record
	switch format {
	case FormatJSON:
		var raw []json.RawMessage
		if err := json.Unmarshal(bytes.TrimSpace(data), &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		for _, msg := range raw {
			var rec Record
			if err := json.Unmarshal(msg, &rec.Input); err != nil {
				rec.Err = fmt.Errorf("malformed chapter: %w", err)
			}
			records = append(records, rec)
		}
	case FormatYAML:
		var nodes []yaml.Node
		if err := yaml.Unmarshal(data, &nodes); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		for i := range nodes {
			var rec Record
			if err := nodes[i].Decode(&rec.Input); err != nil {
				rec.Err = fmt.Errorf("malformed chapter: %w", err)
			}
			records = append(records, rec)
		}
	}

	if len(records) == 0 {
		return nil, ErrEmpty
	}
	if len(records) > MaxRecords {
		return nil, ErrTooManyRecords
	}
	return records, nil
}
