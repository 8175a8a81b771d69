// Copyright 2025 ATEL Network

package envelope

import (
	"sync"
	"time"

	"github.com/atel-network/atpc/pkg/atpclog"
)

// DefaultNonceTTL is how long a seen nonce is remembered before it is
// eligible for eviction and could, in principle, recur.
const DefaultNonceTTL = time.Hour

// NonceTracker remembers recently-seen nonces to reject replayed
// envelopes. Expired entries are evicted lazily on access rather than
// swept by a background goroutine.
type NonceTracker struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	logger *atpclog.Logger
}

// NewNonceTracker constructs a tracker with the given TTL. A zero ttl
// uses DefaultNonceTTL.
func NewNonceTracker(ttl time.Duration) *NonceTracker {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &NonceTracker{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		logger: atpclog.New("NonceTracker"),
	}
}

// Check returns true iff nonce has not been seen within the TTL window,
// and records it as seen. A duplicate nonce returns false.
func (t *NonceTracker) Check(nonce string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictExpired()

	if _, exists := t.seen[nonce]; exists {
		t.logger.Warnf("rejected replayed nonce %s", nonce)
		return false
	}
	t.seen[nonce] = time.Now()
	return true
}

// evictExpired removes nonces older than the TTL. Callers must hold mu.
func (t *NonceTracker) evictExpired() {
	threshold := time.Now().Add(-t.ttl)
	for nonce, seenAt := range t.seen {
		if seenAt.Before(threshold) {
			delete(t.seen, nonce)
		}
	}
}

// Size returns the number of nonces currently tracked, including any
// not yet lazily evicted.
func (t *NonceTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
