// Package ratelimit implements a sliding-window rate limiter for the
// upstream venue's per-endpoint-class quotas.
//
// Unlike a token bucket with continuous refill, this tracks a deque of
// request-acknowledge timestamps and trims entries older than the window on
// every acquire. It also honors a server-supplied Retry-After hint on 429
// responses, which a pure token bucket has no hook for.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Limiter is a single-shard sliding-window rate limiter. Safe for concurrent
// use by multiple goroutines.
type Limiter struct {
	mu         sync.Mutex
	timestamps *list.List // deque of time.Time, oldest first
	maxReqs    int
	window     time.Duration
	retryAfter time.Time // zero value means no active penalty
	name       string
}

// New creates a limiter allowing maxReqs requests per window.
func New(maxReqs int, window time.Duration, name string) *Limiter {
	return &Limiter{
		timestamps: list.New(),
		maxReqs:    maxReqs,
		window:     window,
		name:       name,
	}
}

// Acquire blocks until capacity is available or ctx is cancelled. It first
// honors any active Retry-After penalty, then waits for a slot within the
// sliding window.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.reserve()
		if !ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// reserve attempts to claim a slot. It returns (0, false) on success
// (a slot was recorded) or (wait, true) meaning the caller must sleep wait
// and retry.
func (l *Limiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	if !l.retryAfter.IsZero() && now.Before(l.retryAfter) {
		return l.retryAfter.Sub(now), true
	}

	l.trimExpired(now)

	if l.timestamps.Len() >= l.maxReqs {
		oldest := l.timestamps.Front().Value.(time.Time)
		wait := oldest.Add(l.window).Sub(now) + 50*time.Millisecond
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}

	l.timestamps.PushBack(now)
	return 0, false
}

func (l *Limiter) trimExpired(now time.Time) {
	for e := l.timestamps.Front(); e != nil; {
		next := e.Next()
		ts := e.Value.(time.Time)
		if now.Sub(ts) > l.window {
			l.timestamps.Remove(e)
		}
		e = next
	}
}

// RecordResponse inspects a response's status code and, on 429, applies the
// Retry-After hint (defaulting to 5s if absent or unparsable).
func (l *Limiter) RecordResponse(statusCode int, retryAfterHeader string) {
	if statusCode != 429 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	delay := 5 * time.Second
	if retryAfterHeader != "" {
		if secs, err := time.ParseDuration(retryAfterHeader + "s"); err == nil {
			delay = secs
		}
	}
	l.retryAfter = time.Now().Add(delay)
}

// Available returns the number of requests currently available within the
// window, for observability.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trimExpired(time.Now())
	n := l.maxReqs - l.timestamps.Len()
	if n < 0 {
		return 0
	}
	return n
}

// Set groups the three pre-configured limiter instances the spec names:
// metadata endpoints, public order-book/price reads, and write-class
// endpoints. Capacities are ~70% of the documented upstream limits.
type Set struct {
	Metadata *Limiter // ~200 req/10s — Gamma API event/market listing
	Read     *Limiter // ~1000 req/10s — CLOB order-book/price reads
	Write    *Limiter // ~400 req/10s — write-class endpoints
}

// NewSet builds the standard three-limiter set.
func NewSet() *Set {
	return &Set{
		Metadata: New(200, 10*time.Second, "metadata"),
		Read:     New(1000, 10*time.Second, "clob-read"),
		Write:    New(400, 10*time.Second, "clob-write"),
	}
}
