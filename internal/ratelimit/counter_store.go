package ratelimit

import (
	"context"
	"time"

	"github.com/benvon/chapters-api/internal/store"
	"github.com/ulule/limiter/v3"
)

// counterStore adapts the store capability to ulule's limiter.Store, so the
// fixed-window counting always runs on the store's atomic increment.
type counterStore struct {
	st     store.Store
	prefix string
	now    func() time.Time
}

var _ limiter.Store = (*counterStore)(nil)

func (s *counterStore) key(client string) string {
	return s.prefix + client
}

// Get counts one hit for key
func (s *counterStore) Get(ctx context.Context, key string, rate limiter.Rate) (limiter.Context, error) {
	return s.Increment(ctx, key, 1, rate)
}

// Increment counts count hits for key
func (s *counterStore) Increment(ctx context.Context, key string, count int64, rate limiter.Rate) (limiter.Context, error) {
	c, err := s.st.Increment(ctx, s.key(key), count, rate.Period)
	if err != nil {
		return limiter.Context{}, err
	}
	return contextFor(rate, c, s.now()), nil
}

// Peek reads the state for key without counting a hit
func (s *counterStore) Peek(ctx context.Context, key string, rate limiter.Rate) (limiter.Context, error) {
	c, err := s.st.Peek(ctx, s.key(key))
	if err != nil {
		return limiter.Context{}, err
	}
	return contextFor(rate, c, s.now()), nil
}

// Reset drops the record for key
func (s *counterStore) Reset(ctx context.Context, key string, rate limiter.Rate) (limiter.Context, error) {
	if err := s.st.Delete(ctx, s.key(key)); err != nil {
		return limiter.Context{}, err
	}
	return contextFor(rate, store.Counter{}, s.now()), nil
}

func contextFor(rate limiter.Rate, c store.Counter, now time.Time) limiter.Context {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = rate.Period
	}

	remaining := int64(0)
	if c.Count < rate.Limit {
		remaining = rate.Limit - c.Count
	}

	return limiter.Context{
		Limit:     rate.Limit,
		Remaining: remaining,
		Reset:     resetUnix(now.Add(ttl)),
		Reached:   c.Count > rate.Limit,
	}
}

// resetUnix rounds up so clients told to come back at Reset never arrive early
func resetUnix(t time.Time) int64 {
	if t.Nanosecond() > 0 {
		return t.Unix() + 1
	}
	return t.Unix()
}
