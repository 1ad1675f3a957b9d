// Package ratelimit implements a per-key fixed-window request limiter for
// the Issuer's HTTP API, generalized from a fixed five-attempts-per-five-
// minutes login guard to an arbitrary limit/window pair. The Issuer keys it
// by client IP with its configured per-hour limit; the tier-derived
// api_rate_limit_per_hour figure certs.LimitsBlock carries is not used here.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count   int
	firstAt time.Time
}

// Limiter tracks request counts per key within a fixed window that starts
// at the key's first request and restarts once it has elapsed.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*window
}

// New builds a Limiter allowing up to limit requests per key within
// windowDur. A non-positive limit disables limiting (Allow always true).
func New(limit int, windowDur time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  windowDur,
		windows: make(map[string]*window),
	}
}

// Allow reports whether a request for key is within the limit, recording
// the attempt either way.
func (l *Limiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.After(w.firstAt.Add(l.window)) {
		l.windows[key] = &window{count: 1, firstAt: now}
		return true
	}

	w.count++
	return w.count <= l.limit
}

// Cleanup evicts windows that have fully expired. Call periodically from a
// background loop to bound memory.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, w := range l.windows {
		if now.After(w.firstAt.Add(l.window)) {
			delete(l.windows, key)
		}
	}
}
