// Package ratelimit counts calls per key in fixed windows. The memory limiter serves a single
// instance; the redis limiter shares counts across every instance behind the load balancer.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Remaining calls left in the window after this one.
	Remaining int
	// RetryAfter is the time until the window resets. Set whether or not the call was allowed.
	RetryAfter time.Duration
}

// Limiter admits up to a fixed number of calls per key and window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Memory is an in-process fixed window limiter.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
	calls   int
}

type window struct {
	count   int
	resetAt time.Time
}

// sweepEvery bounds how many calls pass between scans for expired windows.
const sweepEvery = 1024

// NewMemory returns nil, which callers treat as unlimited, when limit or period is not positive.
func NewMemory(limit int, period time.Duration, now func() time.Time) *Memory {
	if limit <= 0 || period <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &Memory{limit: limit, window: period, now: now, windows: make(map[string]*window)}
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	if m == nil {
		return Decision{Allowed: true}, nil
	}
	key = normaliseKey(key)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls%sweepEvery == 0 {
		for k, w := range m.windows {
			if !now.Before(w.resetAt) {
				delete(m.windows, k)
			}
		}
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(m.window)}
		m.windows[key] = w
	}
	retry := w.resetAt.Sub(now)
	if w.count >= m.limit {
		return Decision{RetryAfter: retry}, nil
	}
	w.count++
	return Decision{Allowed: true, Remaining: m.limit - w.count, RetryAfter: retry}, nil
}

func normaliseKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "anonymous"
	}
	return key
}
