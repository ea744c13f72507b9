package middleware

import (
	"mime"
	"net/http"

	"github.com/benvon/chapters-api/internal/apierror"
)

// ContentType rejects bodies of write requests whose media type is not in allowed.
// Requests without a body pass, so body-less admin calls need no header.
func ContentType(allowed ...string) func(http.Handler) http.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hasBody := r.ContentLength > 0 || r.ContentLength == -1
			if !hasBody || (r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch) {
				next.ServeHTTP(w, r)
				return
			}

			contentType := r.Header.Get("Content-Type")
			if contentType == "" {
				apierror.Write(w, r, apierror.Validation("Content-Type header is required"), nil)
				return
			}
			mediaType, _, err := mime.ParseMediaType(contentType)
			if err != nil {
				apierror.Write(w, r, apierror.Validation("Malformed Content-Type header"), nil)
				return
			}
			if _, ok := set[mediaType]; !ok {
				apierror.Write(w, r, apierror.Validation("Unsupported Content-Type "+mediaType), nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
