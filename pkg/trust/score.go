// Copyright 2025 ATEL Network
//
// Package trust implements C8: per-agent trust scoring from execution
// history, a directed weighted multi-graph of inter-agent interactions,
// and direct/indirect/composite trust derivation over that graph.
//
// The score store uses a single lock protecting per-subject running
// state, with a read-only snapshot method for callers that just want
// the current numbers.
package trust

import (
	"math"
	"sync"
	"time"

	"github.com/atel-network/atpc/pkg/atpclog"
)

// RiskFlag names a behavioral pattern the score model can surface
// alongside a numeric score.
type RiskFlag string

const (
	FlagLowSuccessRate RiskFlag = "LOW_SUCCESS_RATE"
	FlagHasViolations  RiskFlag = "HAS_VIOLATIONS"
	FlagLowRiskOnly    RiskFlag = "LOW_RISK_ONLY"
	FlagRecentFailures RiskFlag = "RECENT_FAILURES"
)

// ExecutionSummary is the input recorded for one completed task.
type ExecutionSummary struct {
	Executor         string
	TaskID           string
	TaskType         string
	RiskLevel        string // low | medium | high | critical
	Success          bool
	DurationMs       int64
	ToolCalls        int
	PolicyViolations int
	ProofID          string
	Timestamp        time.Time
}

// agentRecord accumulates the running counters a score is derived
// from. recentOutcomes holds the last 10 outcomes (success or failure).
type agentRecord struct {
	totalTasks             int
	successfulTasks        int
	totalViolations        int
	highCriticalSuccesses  int
	allLowRisk             bool
	recentOutcomes         []bool // most recent last, capped at 10
}

// Score is the computed result for one agent.
type Score struct {
	Agent string     `json:"agent"`
	Value float64    `json:"value"`
	Flags []RiskFlag `json:"flags"`
}

// ScoreStore holds per-agent execution history and derives scores from
// it. Safe for concurrent use.
type ScoreStore struct {
	mu      sync.RWMutex
	records map[string]*agentRecord
	logger  *atpclog.Logger
}

// NewScoreStore returns an empty score store.
func NewScoreStore() *ScoreStore {
	return &ScoreStore{
		records: make(map[string]*agentRecord),
		logger:  atpclog.New("trust.score"),
	}
}

// Record folds one execution summary into the executor's running
// history.
func (s *ScoreStore) Record(summary ExecutionSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[summary.Executor]
	if !ok {
		rec = &agentRecord{allLowRisk: true}
		s.records[summary.Executor] = rec
	}

	rec.totalTasks++
	if summary.Success {
		rec.successfulTasks++
	}
	rec.totalViolations += summary.PolicyViolations

	if summary.RiskLevel != "low" {
		rec.allLowRisk = false
	}
	if summary.Success && (summary.RiskLevel == "high" || summary.RiskLevel == "critical") {
		rec.highCriticalSuccesses++
	}

	rec.recentOutcomes = append(rec.recentOutcomes, summary.Success)
	if len(rec.recentOutcomes) > 10 {
		rec.recentOutcomes = rec.recentOutcomes[len(rec.recentOutcomes)-10:]
	}

	s.logger.Infof("recorded execution for %s: success=%v violations=%d", summary.Executor, summary.Success, summary.PolicyViolations)
}

// Compute derives the current score and risk flags for agent.
func (s *ScoreStore) Compute(agent string) Score {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[agent]
	if !ok || rec.totalTasks == 0 {
		return Score{Agent: agent, Value: 0, Flags: nil}
	}

	successRate := float64(rec.successfulTasks) / float64(rec.totalTasks)
	volumeTerm := minF(float64(rec.totalTasks)/100.0, 1.0)
	criticalTerm := float64(rec.highCriticalSuccesses) / float64(rec.totalTasks)
	violationTerm := 1.0 - minF(float64(rec.totalViolations)/float64(rec.totalTasks), 1.0)

	value := successRate*60 + volumeTerm*15 + criticalTerm*15 + violationTerm*10
	value = clamp(round2(value), 0, 100)

	var flags []RiskFlag
	if successRate < 0.5 {
		flags = append(flags, FlagLowSuccessRate)
	}
	if rec.totalViolations > 0 {
		flags = append(flags, FlagHasViolations)
	}
	if rec.totalTasks > 50 && rec.allLowRisk {
		flags = append(flags, FlagLowRiskOnly)
	}
	if recentFailureRate(rec.recentOutcomes) > 0.5 {
		flags = append(flags, FlagRecentFailures)
	}

	return Score{Agent: agent, Value: value, Flags: flags}
}

// SuccessRate returns agent's lifetime success rate, 0 if unknown.
func (s *ScoreStore) SuccessRate(agent string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[agent]
	if !ok || rec.totalTasks == 0 {
		return 0
	}
	return float64(rec.successfulTasks) / float64(rec.totalTasks)
}

func recentFailureRate(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range outcomes {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(outcomes))
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// round2 rounds v to 2 decimal places, matching the score formula's
// published precision.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
