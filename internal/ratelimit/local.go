package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// localLimiter is the FailLocal fallback: one token bucket per client, refilling
// max tokens per window. It only sees this instance's traffic.
type localLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*localBucket
	every     rate.Limit
	burst     int
	window    time.Duration
	lastSweep time.Time
}

type localBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLocalLimiter(window time.Duration, max int64) *localLimiter {
	return &localLimiter{
		buckets: make(map[string]*localBucket),
		every:   rate.Every(window / time.Duration(max)),
		burst:   int(max),
		window:  window,
	}
}

func (l *localLimiter) allow(client string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.window {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.window {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[client]
	if !ok {
		b = &localBucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[client] = b
	}
	b.lastSeen = now

	permitted := b.lim.AllowN(now, 1)
	remaining := max(int64(b.lim.TokensAt(now)), 0)

	d := Decision{
		Permitted: permitted,
		Limit:     int64(l.burst),
		Remaining: remaining,
		ResetAt:   now.Add(l.window),
		Degraded:  true,
	}
	if !permitted {
		// time until one token is back
		d.RetryAfter = time.Duration(float64(time.Second) / float64(l.every))
		d.ResetAt = now.Add(d.RetryAfter)
	}
	return d
}
