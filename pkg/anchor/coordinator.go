// Copyright 2025 ATEL Network
package anchor

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atel-network/atpc/pkg/atpclog"
)

var (
	anchorAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atpc_anchor_attempts_total",
			Help: "Anchor attempts per chain, labeled by outcome.",
		},
		[]string{"chain", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(anchorAttempts)
}

// Coordinator fans a single hash out across every registered provider,
// aggregating per-chain failures instead of letting one bad chain
// block the rest.
type Coordinator struct {
	mu        sync.RWMutex
	providers map[string]Provider
	logger    *atpclog.Logger
}

// NewCoordinator returns a Coordinator with no providers registered.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		providers: make(map[string]Provider),
		logger:    atpclog.New("anchor.coordinator"),
	}
}

// Register adds or replaces the provider for chain.
func (c *Coordinator) Register(chain string, provider Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[chain] = provider
}

// ChainResult is one provider's outcome from AnchorAll.
type ChainResult struct {
	Chain  string
	Record *Record
	Err    error
}

// AnchorAll anchors hash on every registered, available provider
// concurrently. A provider failing or being unavailable never
// prevents the others from anchoring; it is merely recorded in the
// returned per-chain results.
func (c *Coordinator) AnchorAll(ctx context.Context, hash string, metadata map[string]any) []ChainResult {
	c.mu.RLock()
	snapshot := make(map[string]Provider, len(c.providers))
	for chain, p := range c.providers {
		snapshot[chain] = p
	}
	c.mu.RUnlock()

	results := make([]ChainResult, len(snapshot))
	var wg sync.WaitGroup
	i := 0
	for chain, provider := range snapshot {
		wg.Add(1)
		go func(i int, chain string, provider Provider) {
			defer wg.Done()
			results[i] = c.anchorOne(ctx, chain, provider, hash, metadata)
		}(i, chain, provider)
		i++
	}
	wg.Wait()

	return results
}

func (c *Coordinator) anchorOne(ctx context.Context, chain string, provider Provider, hash string, metadata map[string]any) ChainResult {
	if !provider.IsAvailable() {
		anchorAttempts.WithLabelValues(chain, "unavailable").Inc()
		c.logger.Warnf("provider %s unavailable, skipping anchor of %s", chain, hash)
		return ChainResult{Chain: chain, Err: errUnavailable(chain)}
	}

	record, err := provider.Anchor(ctx, hash, metadata)
	if err != nil {
		anchorAttempts.WithLabelValues(chain, "error").Inc()
		c.logger.Errorf("anchor failed on %s: %v", chain, err)
		return ChainResult{Chain: chain, Err: err}
	}

	anchorAttempts.WithLabelValues(chain, "ok").Inc()
	return ChainResult{Chain: chain, Record: record}
}

// Lookup returns every record for hash across all registered providers
// that can produce one, keyed by chain.
func (c *Coordinator) Lookup(ctx context.Context, hash string) map[string][]Record {
	c.mu.RLock()
	snapshot := make(map[string]Provider, len(c.providers))
	for chain, p := range c.providers {
		snapshot[chain] = p
	}
	c.mu.RUnlock()

	out := make(map[string][]Record, len(snapshot))
	for chain, provider := range snapshot {
		records, err := provider.Lookup(ctx, hash)
		if err != nil {
			continue
		}
		out[chain] = records
	}
	return out
}
