package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/benvon/chapters-api/internal/apierror"
	"github.com/benvon/chapters-api/internal/middleware"
	"github.com/benvon/chapters-api/internal/request"
)

// Response is the success envelope
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// decodeJSON reads one JSON value from the body into dst. An empty body is
// reported as io.EOF so callers with optional bodies can accept it.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if middleware.IsTooLarge(err) {
			return err
		}
		return apierror.Wrap(apierror.KindValidation, "Request body must be valid JSON", err)
	}
	if dec.More() {
		return apierror.Validation("Request body must contain a single JSON object")
	}
	return nil
}

// bodyError maps a body read failure to the client-facing error
func bodyError(err error, limit int64) error {
	if middleware.IsTooLarge(err) {
		return middleware.PayloadTooLarge(limit)
	}
	return err
}

// actor names the principal for event attribution
func actor(r *http.Request) string {
	if p := request.PrincipalFromContext(r); p != nil {
		return p.Subject
	}
	return ""
}
