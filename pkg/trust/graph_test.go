package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskWeightBoundedByComponentCeilings(t *testing.T) {
	w := TaskWeight(Interaction{
		ToolCalls:        100,
		DurationMs:       1_000_000,
		MaxCost:          1000,
		RiskLevel:        "critical",
		SimilarTaskCount: 0,
	})
	// complexity and value both clamp to 1, risk=3, novelty=1 at zero similar tasks.
	require.InDelta(t, 3.0, w, 0.001)
}

func TestDirectTrustZeroWithoutEdge(t *testing.T) {
	g := NewGraph(NewScoreStore())
	require.Zero(t, g.DirectTrust("a", "b", "scene", time.Now()))
}

func TestDirectTrustGrowsWithSuccessfulInteractions(t *testing.T) {
	store := NewScoreStore()
	g := NewGraph(store)
	now := time.Now()

	for i := 0; i < 25; i++ {
		g.Record(Interaction{From: "a", To: "b", Scene: "search", Success: true, ToolCalls: 2, MaxCost: 1, RiskLevel: "medium", When: now})
		store.Record(ExecutionSummary{Executor: "b", Success: true, RiskLevel: "medium"})
	}

	trust := g.DirectTrust("a", "b", "search", now)
	require.Greater(t, trust, 0.5)
}

func TestDirectTrustDecaysWithRecency(t *testing.T) {
	store := NewScoreStore()
	g := NewGraph(store)
	past := time.Now().Add(-365 * 24 * time.Hour)
	now := time.Now()

	for i := 0; i < 25; i++ {
		g.Record(Interaction{From: "a", To: "b", Scene: "search", Success: true, ToolCalls: 2, MaxCost: 1, RiskLevel: "medium", When: past})
	}

	trustAtInteraction := g.DirectTrust("a", "b", "search", past)
	trustMuchLater := g.DirectTrust("a", "b", "search", now)
	require.Less(t, trustMuchLater, trustAtInteraction)
}

func TestIndirectTrustFindsTwoHopPath(t *testing.T) {
	store := NewScoreStore()
	g := NewGraph(store)
	now := time.Now()

	for i := 0; i < 25; i++ {
		g.Record(Interaction{From: "a", To: "b", Scene: "search", Success: true, ToolCalls: 2, MaxCost: 1, RiskLevel: "medium", When: now})
		g.Record(Interaction{From: "b", To: "c", Scene: "search", Success: true, ToolCalls: 2, MaxCost: 1, RiskLevel: "medium", When: now})
	}

	trust, confidence := g.IndirectTrust("a", "c", "search", now)
	require.Greater(t, trust, 0.0)
	require.Equal(t, 0.5, confidence)
}

func TestIndirectTrustIgnoresDirectEdgeEvenWhenLongerPathExists(t *testing.T) {
	store := NewScoreStore()
	g := NewGraph(store)
	now := time.Now()

	for i := 0; i < 25; i++ {
		g.Record(Interaction{From: "a", To: "c", Scene: "search", Success: true, ToolCalls: 2, MaxCost: 1, RiskLevel: "medium", When: now})
		g.Record(Interaction{From: "a", To: "b", Scene: "search", Success: true, ToolCalls: 2, MaxCost: 1, RiskLevel: "medium", When: now})
		g.Record(Interaction{From: "b", To: "c", Scene: "search", Success: true, ToolCalls: 2, MaxCost: 1, RiskLevel: "medium", When: now})
	}

	direct := g.DirectTrust("a", "c", "search", now)
	indirect, confidence := g.IndirectTrust("a", "c", "search", now)
	require.Greater(t, direct, 0.0)
	require.Greater(t, indirect, 0.0)
	require.Equal(t, 0.5, confidence)
	require.NotEqual(t, direct, indirect, "the direct a->c edge must not be counted as an indirect path")
}

func TestIndirectTrustZeroWithoutPath(t *testing.T) {
	g := NewGraph(NewScoreStore())
	trust, confidence := g.IndirectTrust("a", "z", "search", time.Now())
	require.Zero(t, trust)
	require.Zero(t, confidence)
}

func TestCompositeTrustTransfersWeightWhenDirectIsZero(t *testing.T) {
	store := NewScoreStore()
	g := NewGraph(store)
	now := time.Now()

	for i := 0; i < 25; i++ {
		g.Record(Interaction{From: "a", To: "b", Scene: "search", Success: true, ToolCalls: 2, MaxCost: 1, RiskLevel: "medium", When: now})
		g.Record(Interaction{From: "b", To: "c", Scene: "search", Success: true, ToolCalls: 2, MaxCost: 1, RiskLevel: "medium", When: now})
	}

	composite := g.CompositeTrust("a", "c", "search", now)
	require.Greater(t, composite, 0.0)
}

func TestBehaviorConsistencyFlagsVariableReliability(t *testing.T) {
	store := NewScoreStore()
	g := NewGraph(store)
	now := time.Now()

	for i := 0; i < 20; i++ {
		g.Record(Interaction{From: "a", To: "reliable", Scene: "s", Success: true, ToolCalls: 1, MaxCost: 1, RiskLevel: "low", When: now})
	}
	for i := 0; i < 20; i++ {
		g.Record(Interaction{From: "a", To: "flaky", Scene: "s", Success: i%5 == 0, ToolCalls: 1, MaxCost: 1, RiskLevel: "low", When: now})
	}

	score, suspicious := g.BehaviorConsistency("a")
	require.True(t, suspicious)
	require.Less(t, score, 0.7)
}

func TestBehaviorConsistencyDefaultsToConsistentWithNoEdges(t *testing.T) {
	g := NewGraph(NewScoreStore())
	score, suspicious := g.BehaviorConsistency("lonely")
	require.Equal(t, 1.0, score)
	require.False(t, suspicious)
}

func TestDetectSuspiciousClustersFindsInwardFacingGroup(t *testing.T) {
	store := NewScoreStore()
	g := NewGraph(store)
	now := time.Now()

	members := []string{"ring-1", "ring-2", "ring-3"}
	for _, from := range members {
		for _, to := range members {
			if from == to {
				continue
			}
			for i := 0; i < 10; i++ {
				g.Record(Interaction{From: from, To: to, Scene: "s", Success: true, ToolCalls: 1, MaxCost: 1, RiskLevel: "low", When: now})
			}
		}
	}

	clusters := g.DetectSuspiciousClusters()
	require.NotEmpty(t, clusters)
}
