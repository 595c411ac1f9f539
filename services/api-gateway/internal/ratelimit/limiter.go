package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/DanielEsLoH/MediConnect-sub004/pkg/cache"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter is a fixed-window counter kept in the shared cache, so the limit
// holds across gateway replicas.
type Limiter struct {
	store  cache.Store
	window time.Duration
	now    func() time.Time
}

func New(store cache.Store, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, window: window, now: time.Now}
}

func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) Window() time.Duration { return l.window }

// Allow counts one hit against key (e.g. "ip:10.0.0.1", "user:42"). A limit
// of zero or less disables limiting for the key.
func (l *Limiter) Allow(ctx context.Context, key string, limit int) (Decision, error) {
	now := l.now()
	start := now.Truncate(l.window)
	reset := start.Add(l.window)
	if limit <= 0 {
		return Decision{Allowed: true, ResetAt: reset}, nil
	}

	k := "rl:" + key + ":" + strconv.FormatInt(start.Unix(), 10)
	// one extra second of TTL so the key outlives clock skew between replicas
	n, err := l.store.Incr(ctx, k, reset.Sub(now)+time.Second)
	if err != nil {
		return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: reset}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	d := Decision{Limit: limit, ResetAt: reset}
	if n > int64(limit) {
		d.RetryAfter = reset.Sub(now)
		return d, nil
	}
	d.Allowed = true
	d.Remaining = limit - int(n)
	return d, nil
}
