// Copyright 2025 ATEL Network
//
// Package anchor implements the Anchor component: pluggable external
// commitment of trace/proof-bundle hashes onto independent ledgers, so
// a proof survives even if the agent runtime that produced it is gone.
//
// Providers are registered under a chain identifier and fanned out by
// a Coordinator; a failing provider never blocks the others, so the
// same commitment can be anchored across multiple chains while
// tolerating individual chain failures.
package anchor

import (
	"context"
	"time"
)

// Record is what a provider returns after successfully anchoring a
// hash.
type Record struct {
	Chain     string    `json:"chain"`
	Hash      string    `json:"hash"`
	TxRef     string    `json:"txRef"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// VerifyResult is the outcome of checking whether hash was actually
// anchored under txRef.
type VerifyResult struct {
	Valid          bool       `json:"valid"`
	Detail         string     `json:"detail,omitempty"`
	BlockTimestamp *time.Time `json:"blockTimestamp,omitempty"`
}

// Provider anchors commitments onto one external ledger.
type Provider interface {
	// Anchor commits hash (with optional metadata) and returns a record
	// identifying where it landed.
	Anchor(ctx context.Context, hash string, metadata map[string]any) (*Record, error)
	// Verify checks that hash was anchored under txRef.
	Verify(ctx context.Context, hash, txRef string) (*VerifyResult, error)
	// Lookup returns every record anchoring hash this provider knows of.
	Lookup(ctx context.Context, hash string) ([]Record, error)
	// IsAvailable reports whether the provider can currently anchor.
	IsAvailable() bool
}
