// Package ratelimit implements a per-key fixed-window request-admission
// controller over an in-memory bucket table.
package ratelimit

import "sync"

// DefaultLimit is the per-key request budget for one labeled
// one-second window.
const DefaultLimit = 100

type bucket struct {
	windowStart int64
	count       int
}

// Table maps client keys (IPs) to fixed-window counters. It is shared
// mutable state on every request path; all operations take the table
// lock. Construct one per process and inject it, never share through
// package globals.
//
// The counter is a fixed-window limiter, not a sliding window: each
// labeled one-second window admits at most Limit requests, which bounds
// any labeled 60-second span to 60*Limit, but a client straddling a
// window boundary can reach ~2x Limit inside an arbitrary one-second
// span. That tradeoff buys O(1) memory and time per key and is
// intentional.
type Table struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
}

// NewTable creates an empty bucket table. A non-positive limit falls
// back to [DefaultLimit].
func NewTable(limit int) *Table {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Table{
		buckets: make(map[string]*bucket),
		limit:   limit,
	}
}

// Check admits or denies one request from key at nowMillis. The first
// request in a window creates the bucket; request number limit is still
// admitted, number limit+1 is denied. A request in a later window
// resets the bucket to count 1.
func (t *Table) Check(key string, nowMillis int64) bool {
	windowStart := nowMillis / 1000

	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key]
	if !ok || b.windowStart != windowStart {
		t.buckets[key] = &bucket{windowStart: windowStart, count: 1}
		return true
	}

	b.count++
	return b.count <= t.limit
}

// Sweep removes every bucket whose window started before
// nowMillis/1000 - maxAgeSeconds and returns the number removed. It
// bounds table memory for a continuously growing key set and runs on a
// fixed interval independent of request traffic.
func (t *Table) Sweep(nowMillis, maxAgeSeconds int64) int {
	cutoff := nowMillis/1000 - maxAgeSeconds

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, b := range t.buckets {
		if b.windowStart < cutoff {
			delete(t.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live buckets.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}
