// Copyright 2025 ATEL Network
package anchor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atel-network/atpc/pkg/atpcerrors"
)

// MemoryProvider is a reference Provider backed by an in-process map.
// Useful for tests and for deployments where anchoring means "record
// it somewhere queryable", not "pay for on-chain settlement".
type MemoryProvider struct {
	mu      sync.RWMutex
	chain   string
	records map[string][]Record
}

// NewMemoryProvider returns an empty in-memory provider identified by
// chain.
func NewMemoryProvider(chain string) *MemoryProvider {
	return &MemoryProvider{chain: chain, records: make(map[string][]Record)}
}

func (p *MemoryProvider) Anchor(_ context.Context, hash string, metadata map[string]any) (*Record, error) {
	rec := Record{
		Chain:     p.chain,
		Hash:      hash,
		TxRef:     uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	p.mu.Lock()
	p.records[hash] = append(p.records[hash], rec)
	p.mu.Unlock()

	return &rec, nil
}

func (p *MemoryProvider) Verify(_ context.Context, hash, txRef string) (*VerifyResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, rec := range p.records[hash] {
		if rec.TxRef == txRef {
			ts := rec.Timestamp
			return &VerifyResult{Valid: true, BlockTimestamp: &ts}, nil
		}
	}
	return &VerifyResult{Valid: false, Detail: "no matching record for hash/txRef"}, nil
}

func (p *MemoryProvider) Lookup(_ context.Context, hash string) ([]Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Record, len(p.records[hash]))
	copy(out, p.records[hash])
	return out, nil
}

func (p *MemoryProvider) IsAvailable() bool { return true }

var _ Provider = (*MemoryProvider)(nil)

// errUnavailable builds the error Anchor returns when IsAvailable is false.
func errUnavailable(chain string) error {
	return atpcerrors.Newf(atpcerrors.Anchor, "provider %q unavailable", chain)
}
