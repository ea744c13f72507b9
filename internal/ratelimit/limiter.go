package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logpkg "github.com/benvon/chapters-api/internal/logger"
	"github.com/benvon/chapters-api/internal/store"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"
)

// KeyPrefix namespaces every rate-limit record in the shared store
const KeyPrefix = "rate_limit:"

// ErrStoreUnavailable is returned by Allow under FailClosed when the store cannot be reached
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Decision is the outcome of one Allow call
type Decision struct {
	Permitted  bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the store was unreachable and the failure policy decided
	Degraded bool
}

// Limiter is a fixed-window request counter for one scope
type Limiter struct {
	cfg        Config
	instance   *limiter.Limiter
	local      *localLimiter
	log        *zap.Logger
	now        func() time.Time
	onDegraded func(scope string)
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithDegradedHook is called every time the store fails and the failure policy takes over
func WithDegradedHook(fn func(scope string)) Option {
	return func(l *Limiter) { l.onDegraded = fn }
}

// New creates a limiter for cfg.Scope backed by st
func New(st store.Store, cfg Config, log *zap.Logger, opts ...Option) (*Limiter, error) {
	if st == nil {
		return nil, fmt.Errorf("rate limiter %s: store is required", cfg.Scope)
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = FailOpen
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	l := &Limiter{
		cfg: cfg,
		log: log.With(zap.String("scope", cfg.Scope)),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	cs := &counterStore{st: st, prefix: ScopePrefix(cfg.Scope), now: l.now}
	l.instance = limiter.New(cs, cfg.Rate())
	if cfg.FailurePolicy == FailLocal {
		l.local = newLocalLimiter(cfg.Window, cfg.Max)
	}
	return l, nil
}

// Config returns the limiter's configuration
func (l *Limiter) Config() Config {
	return l.cfg
}

// Allow counts one request for client and decides whether it may proceed.
// The returned error is non-nil only under FailClosed when the store is unreachable.
func (l *Limiter) Allow(ctx context.Context, client string) (Decision, error) {
	now := l.now()
	lctx, err := l.instance.Get(ctx, client)
	if err != nil {
		return l.degraded(client, now, err)
	}

	resetAt := time.Unix(lctx.Reset, 0)
	d := Decision{
		Permitted: !lctx.Reached,
		Limit:     lctx.Limit,
		Remaining: lctx.Remaining,
		ResetAt:   resetAt,
	}
	if !d.Permitted {
		d.RetryAfter = max(resetAt.Sub(now), 0)
	}
	return d, nil
}

func (l *Limiter) degraded(client string, now time.Time, cause error) (Decision, error) {
	if l.onDegraded != nil {
		l.onDegraded(l.cfg.Scope)
	}
	l.log.Warn("rate_limit_store_unavailable",
		zap.String("policy", string(l.cfg.FailurePolicy)),
		zap.String("error", logpkg.SanitizeError(cause)),
	)

	switch l.cfg.FailurePolicy {
	case FailClosed:
		return Decision{Permitted: false, Limit: l.cfg.Max, Degraded: true},
			fmt.Errorf("%w: %w", ErrStoreUnavailable, cause)
	case FailLocal:
		return l.local.allow(client, now), nil
	default:
		return Decision{
			Permitted: true,
			Limit:     l.cfg.Max,
			Remaining: l.cfg.Max,
			ResetAt:   now.Add(l.cfg.Window),
			Degraded:  true,
		}, nil
	}
}

// Reset clears this limiter's records and returns the cleared keys
func (l *Limiter) Reset(ctx context.Context, st store.Store) ([]string, error) {
	return Reset(ctx, st, l.cfg.Scope)
}

// ScopePrefix returns the store prefix of a scope. An empty scope covers every scope.
func ScopePrefix(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return KeyPrefix
	}
	return KeyPrefix + scope + ":"
}

// Reset clears all records under scope (every scope when empty) and returns the cleared keys
func Reset(ctx context.Context, st store.Store, scope string) ([]string, error) {
	keys, err := st.DeleteByPrefix(ctx, ScopePrefix(scope))
	if err != nil {
		return nil, fmt.Errorf("reset rate limits: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// Record is the live state of one rate-limit key
type Record struct {
	Key     string    `json:"key"`
	Scope   string    `json:"scope"`
	Client  string    `json:"client"`
	Count   int64     `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}

// List returns the live records under scope (every scope when empty)
func List(ctx context.Context, st store.Store, scope string, now time.Time) ([]Record, error) {
	keys, err := st.Keys(ctx, ScopePrefix(scope))
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}

	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		c, err := st.Peek(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list rate limits: %w", err)
		}
		if c.Count == 0 {
			continue // expired between SCAN and GET
		}
		rest := strings.TrimPrefix(key, KeyPrefix)
		recScope, client, _ := strings.Cut(rest, ":")
		records = append(records, Record{
			Key:     key,
			Scope:   recScope,
			Client:  client,
			Count:   c.Count,
			ResetAt: now.Add(c.TTL),
		})
	}
	return records, nil
}
