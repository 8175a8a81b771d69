// Copyright 2025 ATEL Network
package main

import (
	"sync"
	"time"
)

// tokenBucket is a single caller's rate-limit state: a bucket refilled
// continuously up to its capacity, drained one token per request.
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// perDIDLimiter throttles inbound requests with a token bucket keyed
// by caller DID.
type perDIDLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	ratePerMin int
}

func newPerDIDLimiter(ratePerMin int) *perDIDLimiter {
	return &perDIDLimiter{
		buckets:    make(map[string]*tokenBucket),
		ratePerMin: ratePerMin,
	}
}

// Allow reports whether did may make another request now, consuming a
// token if so.
func (l *perDIDLimiter) Allow(did string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[did]
	if !ok {
		b = &tokenBucket{tokens: float64(l.ratePerMin), lastRefill: now}
		l.buckets[did] = b
	}

	elapsed := now.Sub(b.lastRefill).Minutes()
	b.tokens += elapsed * float64(l.ratePerMin)
	if b.tokens > float64(l.ratePerMin) {
		b.tokens = float64(l.ratePerMin)
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
