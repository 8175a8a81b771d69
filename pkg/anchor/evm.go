// Copyright 2025 ATEL Network
package anchor

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/atel-network/atpc/pkg/atpcerrors"
)

// EVMClient is the minimal surface an EVMMemoProvider needs from an
// Ethereum-compatible chain client. *ethclient.Client does not implement
// it directly (it has no SendMemo method); tests supply a fake.
type EVMClient interface {
	SendMemo(ctx context.Context, memo [32]byte) (txHash common.Hash, err error)
	ReceiptTimestamp(ctx context.Context, txHash common.Hash) (*time.Time, error)
}

// EVMMemoProvider anchors a hash by embedding it as a 32-byte memo in
// an Ethereum-compatible transaction's input data: a single
// commit-a-32-byte-word transaction per anchor call.
type EVMMemoProvider struct {
	chain  string
	client EVMClient
}

// NewEVMMemoProvider returns a Provider that anchors via client under
// the given chain identifier (e.g. "ethereum", "polygon").
func NewEVMMemoProvider(chain string, client EVMClient) *EVMMemoProvider {
	return &EVMMemoProvider{chain: chain, client: client}
}

func hashToMemo(hash string) ([32]byte, error) {
	var memo [32]byte
	raw, err := hex.DecodeString(hash)
	if err != nil {
		return memo, atpcerrors.Wrap(atpcerrors.Anchor, "hashToMemo.decode", err)
	}
	if len(raw) != 32 {
		// Non-hash-shaped payloads are re-hashed into a fixed-size memo
		// with keccak256, matching go-ethereum's standard digest.
		memo = crypto.Keccak256Hash([]byte(hash))
		return memo, nil
	}
	copy(memo[:], raw)
	return memo, nil
}

func (p *EVMMemoProvider) Anchor(ctx context.Context, hash string, metadata map[string]any) (*Record, error) {
	if !p.IsAvailable() {
		return nil, errUnavailable(p.chain)
	}

	memo, err := hashToMemo(hash)
	if err != nil {
		return nil, err
	}

	txHash, err := p.client.SendMemo(ctx, memo)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Anchor, "anchor.sendMemo", err)
	}

	return &Record{
		Chain:     p.chain,
		Hash:      hash,
		TxRef:     txHash.Hex(),
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}, nil
}

// Verify reports txRef as valid once its transaction is mined. It does
// not read the transaction's input data, so it does not check that the
// anchored memo matches hash.
func (p *EVMMemoProvider) Verify(ctx context.Context, hash, txRef string) (*VerifyResult, error) {
	if !common.IsHexAddress(txRef) && len(txRef) != 66 {
		return &VerifyResult{Valid: false, Detail: "txRef is not a transaction hash"}, nil
	}

	ts, err := p.client.ReceiptTimestamp(ctx, common.HexToHash(txRef))
	if err != nil {
		return &VerifyResult{Valid: false, Detail: err.Error()}, nil
	}
	if ts == nil {
		return &VerifyResult{Valid: false, Detail: "transaction not yet mined"}, nil
	}

	return &VerifyResult{Valid: true, BlockTimestamp: ts}, nil
}

// Lookup is not supported by the EVM memo provider: there is no
// reverse index from hash to transaction without an external indexer,
// so callers must already hold the txRef from Anchor.
func (p *EVMMemoProvider) Lookup(_ context.Context, _ string) ([]Record, error) {
	return nil, atpcerrors.New(atpcerrors.Anchor, "lookup unsupported: EVM memo provider requires an external indexer")
}

func (p *EVMMemoProvider) IsAvailable() bool {
	return p.client != nil
}

var _ Provider = (*EVMMemoProvider)(nil)
