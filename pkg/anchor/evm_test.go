package anchor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type fakeEVMClient struct {
	txHash       common.Hash
	sendErr      error
	receiptTime  *time.Time
	receiptErr   error
}

func (f *fakeEVMClient) SendMemo(_ context.Context, _ [32]byte) (common.Hash, error) {
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	return f.txHash, nil
}

func (f *fakeEVMClient) ReceiptTimestamp(_ context.Context, _ common.Hash) (*time.Time, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return f.receiptTime, nil
}

func TestEVMMemoProviderAnchorSuccess(t *testing.T) {
	client := &fakeEVMClient{txHash: common.HexToHash("0xabc")}
	p := NewEVMMemoProvider("ethereum", client)

	rec, err := p.Anchor(context.Background(), "deadbeef", nil)
	require.NoError(t, err)
	require.Equal(t, "ethereum", rec.Chain)
	require.Equal(t, common.HexToHash("0xabc").Hex(), rec.TxRef)
}

func TestEVMMemoProviderAnchorPropagatesSendError(t *testing.T) {
	client := &fakeEVMClient{sendErr: errors.New("rpc down")}
	p := NewEVMMemoProvider("ethereum", client)

	_, err := p.Anchor(context.Background(), "deadbeef", nil)
	require.Error(t, err)
}

func TestEVMMemoProviderUnavailableWithNilClient(t *testing.T) {
	p := NewEVMMemoProvider("ethereum", nil)
	require.False(t, p.IsAvailable())

	_, err := p.Anchor(context.Background(), "deadbeef", nil)
	require.Error(t, err)
}

func TestEVMMemoProviderVerifyPendingTransaction(t *testing.T) {
	client := &fakeEVMClient{receiptTime: nil}
	p := NewEVMMemoProvider("ethereum", client)

	txHash := common.HexToHash("0x1234")
	result, err := p.Verify(context.Background(), "deadbeef", txHash.Hex())
	require.NoError(t, err)
	require.False(t, result.Valid)
}

func TestEVMMemoProviderVerifyMinedTransaction(t *testing.T) {
	ts := time.Now()
	client := &fakeEVMClient{receiptTime: &ts}
	p := NewEVMMemoProvider("ethereum", client)

	txHash := common.HexToHash("0x1234")
	result, err := p.Verify(context.Background(), "deadbeef", txHash.Hex())
	require.NoError(t, err)
	require.True(t, result.Valid)
}

func TestEVMMemoProviderLookupUnsupported(t *testing.T) {
	p := NewEVMMemoProvider("ethereum", &fakeEVMClient{})
	_, err := p.Lookup(context.Background(), "deadbeef")
	require.Error(t, err)
}
