package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeUnknownAgentScoresZero(t *testing.T) {
	store := NewScoreStore()
	score := store.Compute("agent-unknown")
	require.Zero(t, score.Value)
	require.Empty(t, score.Flags)
}

func TestComputeRewardsSuccessAndVolume(t *testing.T) {
	store := NewScoreStore()
	for i := 0; i < 60; i++ {
		store.Record(ExecutionSummary{
			Executor:  "agent-a",
			RiskLevel: "high",
			Success:   true,
			Timestamp: time.Now(),
		})
	}

	score := store.Compute("agent-a")
	require.Greater(t, score.Value, 80.0)
	require.NotContains(t, score.Flags, FlagLowSuccessRate)
}

func TestComputeFlagsLowSuccessRate(t *testing.T) {
	store := NewScoreStore()
	for i := 0; i < 10; i++ {
		store.Record(ExecutionSummary{Executor: "agent-b", RiskLevel: "low", Success: i < 3})
	}

	score := store.Compute("agent-b")
	require.Contains(t, score.Flags, FlagLowSuccessRate)
}

func TestComputeFlagsHasViolations(t *testing.T) {
	store := NewScoreStore()
	store.Record(ExecutionSummary{Executor: "agent-c", RiskLevel: "low", Success: true, PolicyViolations: 1})

	score := store.Compute("agent-c")
	require.Contains(t, score.Flags, FlagHasViolations)
}

func TestComputeFlagsLowRiskOnlyAfterFiftyTasks(t *testing.T) {
	store := NewScoreStore()
	for i := 0; i < 51; i++ {
		store.Record(ExecutionSummary{Executor: "agent-d", RiskLevel: "low", Success: true})
	}

	score := store.Compute("agent-d")
	require.Contains(t, score.Flags, FlagLowRiskOnly)
}

func TestComputeFlagsRecentFailures(t *testing.T) {
	store := NewScoreStore()
	for i := 0; i < 20; i++ {
		store.Record(ExecutionSummary{Executor: "agent-e", RiskLevel: "low", Success: true})
	}
	for i := 0; i < 6; i++ {
		store.Record(ExecutionSummary{Executor: "agent-e", RiskLevel: "low", Success: false})
	}
	for i := 0; i < 4; i++ {
		store.Record(ExecutionSummary{Executor: "agent-e", RiskLevel: "low", Success: true})
	}

	score := store.Compute("agent-e")
	require.Contains(t, score.Flags, FlagRecentFailures)
}

func TestScoreClampedToHundred(t *testing.T) {
	store := NewScoreStore()
	for i := 0; i < 500; i++ {
		store.Record(ExecutionSummary{Executor: "agent-f", RiskLevel: "critical", Success: true})
	}
	score := store.Compute("agent-f")
	require.LessOrEqual(t, score.Value, 100.0)
}
