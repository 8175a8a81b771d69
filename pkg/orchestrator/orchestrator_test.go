package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atel-network/atpc/pkg/consent"
	"github.com/atel-network/atpc/pkg/gateway"
	"github.com/atel-network/atpc/pkg/identity"
	"github.com/atel-network/atpc/pkg/trust"
)

func mustAgent(t *testing.T, id string) *identity.AgentIdentity {
	t.Helper()
	agent, err := identity.NewAgentIdentity(id, nil)
	require.NoError(t, err)
	return agent
}

func TestDelegateExecuteVerifyHappyPath(t *testing.T) {
	delegator := mustAgent(t, "delegator")
	executor := mustAgent(t, "executor")

	intent := TaskIntent{
		TaskID:  "task-1",
		Type:    "web_search",
		Scopes:  []string{"tool:http:get", "data:public_web:read"},
		Risk:    "low",
		MaxCost: 0.01,
	}

	task, err := Delegate(delegator, executor.DID, intent, consent.Constraints{MaxCalls: 5, TTLSec: 3600}, consent.RiskMedium)
	require.NoError(t, err)

	registry := gateway.NewRegistry()
	require.NoError(t, registry.Register("http.get", func(ctx context.Context, input any) (any, error) {
		return map[string]any{"results": []map[string]any{{"title": "X", "url": "https://x"}}}, nil
	}))

	result, err := Execute(context.Background(), executor, delegator.PublicKey, task, registry, 50, func(ctx context.Context, gw *gateway.Gateway) (any, error) {
		res, err := gw.Call(ctx, "http.get", map[string]any{"query": "x"}, consent.RiskLow, "public_web:read")
		if err != nil {
			return nil, err
		}
		return res.Output, nil
	})
	require.NoError(t, err)
	require.NotNil(t, result.Proof)
	require.GreaterOrEqual(t, result.Proof.TraceLength, 4)

	report := Verify(result.Proof, result.Trace)
	require.True(t, report.Valid)

	scores := trust.NewScoreStore()
	graph := trust.NewGraph(scores)
	RecordOutcome(scores, graph, delegator.DID, executor.DID, "web_search", intent, 1, result.Proof.TraceLength, true, 0)
	score := scores.Compute(executor.DID)
	require.Greater(t, score.Value, 0.0)
}

func TestExecuteRejectsWrongExecutor(t *testing.T) {
	delegator := mustAgent(t, "delegator")
	executor := mustAgent(t, "executor")
	imposter := mustAgent(t, "imposter")

	intent := TaskIntent{TaskID: "task-2", Type: "web_search", Scopes: []string{"tool:http:get"}, Risk: "low"}
	task, err := Delegate(delegator, executor.DID, intent, consent.Constraints{MaxCalls: 5, TTLSec: 3600}, consent.RiskMedium)
	require.NoError(t, err)

	registry := gateway.NewRegistry()
	_, err = Execute(context.Background(), imposter, delegator.PublicKey, task, registry, 50, func(ctx context.Context, gw *gateway.Gateway) (any, error) {
		return nil, nil
	})
	require.Error(t, err)
}

func TestExecuteFailsTraceOnBodyError(t *testing.T) {
	delegator := mustAgent(t, "delegator")
	executor := mustAgent(t, "executor")

	intent := TaskIntent{TaskID: "task-3", Type: "web_search", Scopes: []string{"tool:http:get"}, Risk: "low"}
	task, err := Delegate(delegator, executor.DID, intent, consent.Constraints{MaxCalls: 5, TTLSec: 3600}, consent.RiskMedium)
	require.NoError(t, err)

	registry := gateway.NewRegistry()
	result, err := Execute(context.Background(), executor, delegator.PublicKey, task, registry, 50, func(ctx context.Context, gw *gateway.Gateway) (any, error) {
		return nil, errors.New("tool unavailable")
	})
	require.Error(t, err)
	require.Nil(t, result.Proof)
	require.Equal(t, "FAILED", string(result.Trace.State()))
}

func TestExecuteRejectsTamperedEnvelope(t *testing.T) {
	delegator := mustAgent(t, "delegator")
	executor := mustAgent(t, "executor")

	intent := TaskIntent{TaskID: "task-4", Type: "web_search", Scopes: []string{"tool:http:get"}, Risk: "low"}
	task, err := Delegate(delegator, executor.DID, intent, consent.Constraints{MaxCalls: 5, TTLSec: 3600}, consent.RiskMedium)
	require.NoError(t, err)
	task.Envelope.To = executor.DID + "x"

	registry := gateway.NewRegistry()
	_, err = Execute(context.Background(), executor, delegator.PublicKey, task, registry, 50, func(ctx context.Context, gw *gateway.Gateway) (any, error) {
		return nil, nil
	})
	require.Error(t, err)
}
