// Package ratelimit implements a fixed-window token bucket keyed by caller
// identifier. Tokens refill to the full limit only when an entire window has
// elapsed since the last refill; there is no continuous leak. This protects
// inbound endpoints from abuse with predictable reset times.
//
// State is process-local. Under a multi-instance deployment each process
// keeps independent counters; swap the entries map for a shared store if
// that ever matters.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a CheckAndConsume call.
type Decision struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

type entry struct {
	tokens     int
	lastRefill time.Time
}

// Limiter tracks per-identifier fixed-window buckets.
type Limiter struct {
	mu        sync.Mutex
	entries   map[string]*entry
	lastSweep time.Time
	now       func() time.Time
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (l *Limiter) WithNow(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// CheckAndConsume takes one token for id from a bucket of the given limit
// and window. The first call for an identifier initializes the bucket and
// succeeds; once tokens run out, calls fail until a full window has elapsed
// since the last refill.
func (l *Limiter) CheckAndConsume(id string, limit int, window time.Duration) Decision {
	if limit < 1 || window <= 0 {
		return Decision{Allowed: false}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now, window)

	e, ok := l.entries[id]
	if !ok || now.Sub(e.lastRefill) >= window {
		// New identifier or full window rollover: refill and consume one.
		l.entries[id] = &entry{tokens: limit - 1, lastRefill: now}
		return Decision{Allowed: true, Remaining: limit - 1, Reset: now.Add(window)}
	}

	if e.tokens > 0 {
		e.tokens--
		return Decision{Allowed: true, Remaining: e.tokens, Reset: e.lastRefill.Add(window)}
	}

	return Decision{Allowed: false, Remaining: 0, Reset: e.lastRefill.Add(window)}
}

// Len returns the number of tracked identifiers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// sweepLocked evicts entries idle beyond twice the window. It runs at most
// once per window to keep call overhead flat; there is no background timer.
func (l *Limiter) sweepLocked(now time.Time, window time.Duration) {
	if now.Sub(l.lastSweep) < window {
		return
	}
	l.lastSweep = now
	for id, e := range l.entries {
		if now.Sub(e.lastRefill) > 2*window {
			delete(l.entries, id)
		}
	}
}
