package anchor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryProviderAnchorAndLookup(t *testing.T) {
	p := NewMemoryProvider("memory")
	ctx := context.Background()

	rec, err := p.Anchor(ctx, "abc123", map[string]any{"taskId": "t-1"})
	require.NoError(t, err)
	require.Equal(t, "memory", rec.Chain)
	require.NotEmpty(t, rec.TxRef)

	records, err := p.Lookup(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, rec.TxRef, records[0].TxRef)
}

func TestMemoryProviderVerify(t *testing.T) {
	p := NewMemoryProvider("memory")
	ctx := context.Background()

	rec, err := p.Anchor(ctx, "hash-1", nil)
	require.NoError(t, err)

	result, err := p.Verify(ctx, "hash-1", rec.TxRef)
	require.NoError(t, err)
	require.True(t, result.Valid)

	result, err = p.Verify(ctx, "hash-1", "not-a-real-ref")
	require.NoError(t, err)
	require.False(t, result.Valid)
}

func TestMemoryProviderIsAlwaysAvailable(t *testing.T) {
	p := NewMemoryProvider("memory")
	require.True(t, p.IsAvailable())
}
