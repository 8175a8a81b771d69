package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/atel-network/atpc/pkg/atpcerrors"
	"github.com/atel-network/atpc/pkg/consent"
	"github.com/atel-network/atpc/pkg/identity"
	"github.com/atel-network/atpc/pkg/trace"
	"github.com/stretchr/testify/require"
)

func mustToken(t *testing.T, scopes []string, ceiling consent.RiskLevel, maxCalls int) *consent.ConsentToken {
	t.Helper()
	issuer, err := identity.NewAgentIdentity("issuer", nil)
	require.NoError(t, err)
	token, err := consent.Mint(issuer.DID, "executor", scopes, consent.Constraints{MaxCalls: maxCalls, TTLSec: 3600}, ceiling, *issuer)
	require.NoError(t, err)
	return token
}

func TestCallAllowsWithinScopeAndRecordsTrace(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("http.get", func(ctx context.Context, input any) (any, error) {
		return map[string]any{"status": 200}, nil
	}))

	token := mustToken(t, []string{"tool:http:get", "data:*"}, consent.RiskMedium, 5)
	engine := consent.NewEngine(token)

	signer, err := identity.NewAgentIdentity("executor", nil)
	require.NoError(t, err)
	tr := trace.New("task-1", signer, 50)

	gw := New(reg, engine, tr)
	result, err := gw.Call(context.Background(), "http.get", map[string]any{"url": "https://example.com"}, consent.RiskLow, "")
	require.NoError(t, err)
	require.Equal(t, StatusOK, result.Status)
	require.NotEmpty(t, result.InputHash)
	require.NotEmpty(t, result.OutputHash)

	require.Equal(t, 4, engine.GetRemainingCalls())
	require.GreaterOrEqual(t, tr.Len(), 2)
}

func TestCallDeniesOutOfScopeTool(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("db.write", func(ctx context.Context, input any) (any, error) { return nil, nil }))

	token := mustToken(t, []string{"tool:http:get"}, consent.RiskMedium, 5)
	engine := consent.NewEngine(token)
	gw := New(reg, engine, nil)

	_, err := gw.Call(context.Background(), "db.write", nil, consent.RiskLow, "")
	require.Error(t, err)
	require.True(t, atpcerrors.Is(err, atpcerrors.Policy))
}

func TestCallRequiresConfirmationOneLevelOverCeiling(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("http.get", func(ctx context.Context, input any) (any, error) { return nil, nil }))

	token := mustToken(t, []string{"tool:http:get", "data:*"}, consent.RiskLow, 5)
	engine := consent.NewEngine(token)
	gw := New(reg, engine, nil)

	_, err := gw.Call(context.Background(), "http.get", nil, consent.RiskMedium, "")
	require.ErrorContains(t, err, "ConfirmationRequired")
}

func TestCallCapturesHandlerErrorAsErrorStatus(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("http.get", func(ctx context.Context, input any) (any, error) {
		return nil, errors.New("connection refused")
	}))

	token := mustToken(t, []string{"tool:http:get", "data:*"}, consent.RiskMedium, 5)
	engine := consent.NewEngine(token)
	gw := New(reg, engine, nil)

	result, err := gw.Call(context.Background(), "http.get", nil, consent.RiskLow, "")
	require.NoError(t, err)
	require.Equal(t, StatusError, result.Status)
}

func TestCallFailsOnToolNotFound(t *testing.T) {
	reg := NewRegistry()
	token := mustToken(t, []string{"tool:http:get"}, consent.RiskMedium, 5)
	engine := consent.NewEngine(token)
	gw := New(reg, engine, nil)

	_, err := gw.Call(context.Background(), "http.get", nil, consent.RiskLow, "")
	require.Error(t, err)
}

func TestCallStopsAtQuotaExhaustion(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("http.get", func(ctx context.Context, input any) (any, error) { return "ok", nil }))

	token := mustToken(t, []string{"tool:http:get", "data:*"}, consent.RiskMedium, 1)
	engine := consent.NewEngine(token)
	gw := New(reg, engine, nil)

	_, err := gw.Call(context.Background(), "http.get", nil, consent.RiskLow, "")
	require.NoError(t, err)

	_, err = gw.Call(context.Background(), "http.get", nil, consent.RiskLow, "")
	require.Error(t, err)
}
