package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/benvon/chapters-api/internal/apierror"
)

// DefaultMaxRequestSize bounds ordinary JSON bodies
const DefaultMaxRequestSize int64 = 1 << 20

// MaxRequestSize rejects declared oversize bodies up front and caps the rest while they are read
func MaxRequestSize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestSize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				apierror.Write(w, r, PayloadTooLarge(maxBytes), nil)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// PayloadTooLarge is the 413 returned for bodies over limit bytes
func PayloadTooLarge(limit int64) *apierror.Error {
	return apierror.New(apierror.KindPayloadTooLarge, "Request body exceeds the "+humanBytes(limit)+" limit")
}

// IsTooLarge reports whether err came from a MaxBytesReader
func IsTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return strconv.FormatInt(n>>20, 10) + " MiB"
	case n >= 1<<10 && n%(1<<10) == 0:
		return strconv.FormatInt(n>>10, 10) + " KiB"
	default:
		return strconv.FormatInt(n, 10) + " bytes"
	}
}
