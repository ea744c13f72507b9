package ratelimit

import (
	"fmt"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"
)

const (
	// ScopeGeneral covers ordinary read traffic
	ScopeGeneral = "general"
	// ScopeUpload covers chapter creation and bulk upload
	ScopeUpload = "upload"
)

// FailurePolicy decides what happens to a request when the counting store is unreachable
type FailurePolicy string

const (
	// FailOpen permits the request and records a degraded-mode event
	FailOpen FailurePolicy = "open"
	// FailClosed rejects the request with 503
	FailClosed FailurePolicy = "closed"
	// FailLocal falls back to an in-process token bucket sized to the same window
	FailLocal FailurePolicy = "local"
)

// ParseFailurePolicy parses a policy name. Empty selects FailOpen.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return FailOpen, nil
	case FailOpen, FailClosed, FailLocal:
		return p, nil
	default:
		return "", fmt.Errorf("invalid failure policy %q (must be 'open', 'closed', or 'local')", s)
	}
}

// Config is the explicit configuration of one limiter instance
type Config struct {
	Scope         string
	Window        time.Duration
	Max           int64
	FailurePolicy FailurePolicy
}

// ConfigFromRate builds a Config from ulule's formatted notation, e.g. "30-M" or "5-H"
func ConfigFromRate(scope, formatted string, policy FailurePolicy) (Config, error) {
	rate, err := limiter.NewRateFromFormatted(strings.TrimSpace(formatted))
	if err != nil {
		return Config{}, fmt.Errorf("parse rate %q for scope %s: %w", formatted, scope, err)
	}
	cfg := Config{
		Scope:         scope,
		Window:        rate.Period,
		Max:           rate.Limit,
		FailurePolicy: policy,
	}
	return cfg, cfg.Validate()
}

// Validate checks the config is usable
func (c Config) Validate() error {
	if strings.TrimSpace(c.Scope) == "" {
		return fmt.Errorf("rate limit scope is required")
	}
	if strings.Contains(c.Scope, ":") {
		return fmt.Errorf("rate limit scope %q must not contain ':'", c.Scope)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window for scope %s must be positive", c.Scope)
	}
	if c.Max <= 0 {
		return fmt.Errorf("rate limit max for scope %s must be positive", c.Scope)
	}
	if _, err := ParseFailurePolicy(string(c.FailurePolicy)); err != nil {
		return err
	}
	return nil
}

// Rate converts the config to ulule's rate type
func (c Config) Rate() limiter.Rate {
	return limiter.Rate{
		Formatted: fmt.Sprintf("%d-%s", c.Max, c.Window),
		Period:    c.Window,
		Limit:     c.Max,
	}
}
