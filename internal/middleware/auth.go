package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benvon/chapters-api/internal/apierror"
	logpkg "github.com/benvon/chapters-api/internal/logger"
	"github.com/benvon/chapters-api/internal/request"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
)

const (
	// APIKeyHeader carries the static admin key
	APIKeyHeader = "X-API-Key"
	// RoleAdmin is the role claim value granting admin operations
	RoleAdmin = "admin"

	authMethodAPIKey = "api_key"
	authMethodJWT    = "jwt"
)

var (
	errNoCredentials      = errors.New("no credentials")
	errInvalidCredentials = errors.New("invalid credentials")
)

// Authenticator resolves the caller from an admin API key or an HS256 bearer token
type Authenticator struct {
	apiKey    []byte
	jwtSecret []byte
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthenticator creates an authenticator. Either credential source may be
// empty, which disables it; with both empty every admin request is rejected.
func NewAuthenticator(apiKey, jwtSecret string, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Authenticator{logger: logger, now: time.Now}
	if apiKey != "" {
		a.apiKey = []byte(apiKey)
	}
	if jwtSecret != "" {
		a.jwtSecret = []byte(jwtSecret)
	}
	return a
}

// authenticate returns the principal for r, errNoCredentials when r carries none,
// or an error wrapping errInvalidCredentials when what it carries does not verify.
func (a *Authenticator) authenticate(r *http.Request) (*request.Principal, error) {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		if len(a.apiKey) == 0 || subtle.ConstantTimeCompare([]byte(key), a.apiKey) != 1 {
			return nil, fmt.Errorf("%w: api key mismatch", errInvalidCredentials)
		}
		return &request.Principal{Subject: "api-key", Role: RoleAdmin, Method: authMethodAPIKey}, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errNoCredentials
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: malformed Authorization header", errInvalidCredentials)
	}
	return a.verifyToken(strings.TrimSpace(token))
}

func (a *Authenticator) verifyToken(token string) (*request.Principal, error) {
	if len(a.jwtSecret) == 0 {
		return nil, fmt.Errorf("%w: bearer tokens are not accepted", errInvalidCredentials)
	}

	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, a.jwtSecret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(a.now)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidCredentials, err)
	}

	p := &request.Principal{Subject: parsed.Subject(), Method: authMethodJWT}
	if role, ok := parsed.Get("role"); ok {
		if roleStr, ok := role.(string); ok {
			p.Role = roleStr
		}
	}
	return p, nil
}

// RequireAdmin rejects requests without admin credentials: 401 when absent or
// invalid, 403 when valid but lacking the admin role.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.authenticate(r)
		switch {
		case errors.Is(err, errNoCredentials):
			apierror.Write(w, r, apierror.Unauthorized("Admin credentials are required"), a.logger)
			return
		case err != nil:
			a.logger.Debug("auth_failed",
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				zap.String("error", logpkg.SanitizeError(err)),
			)
			apierror.Write(w, r, apierror.Unauthorized("Invalid or expired credentials"), a.logger)
			return
		case !p.IsAdmin():
			apierror.Write(w, r, apierror.Forbidden("Admin role is required"), a.logger)
			return
		}

		next.ServeHTTP(w, r.WithContext(request.WithPrincipal(r.Context(), p)))
	})
}

// OptionalAuth attaches the principal when valid credentials are present and
// otherwise lets the request through anonymously.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, err := a.authenticate(r); err == nil {
			r = r.WithContext(request.WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}
