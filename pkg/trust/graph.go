// Copyright 2025 ATEL Network
//
// Directed weighted multi-graph of inter-agent interactions and the
// direct/indirect/composite trust derivations over it.
package trust

import (
	"math"
	"sync"
	"time"
)

// edgeKey identifies one (from, to, scene) interaction channel. Two
// agents interacting in two different scenes (task types) accumulate
// two independent edges.
type edgeKey struct {
	From  string
	To    string
	Scene string
}

// edge is the running state of one interaction channel.
type edge struct {
	successfulWeight float64
	totalWeight      float64
	consistency      float64 // EMA, starts at 1.0 (no evidence of inconsistency yet)
	lastInteraction  time.Time
	interactionCount int
}

// Interaction is one observed task outcome between two agents in a
// given scene, used to update the graph.
type Interaction struct {
	From             string
	To               string
	Scene            string
	Success          bool
	ToolCalls        int
	DurationMs       int64
	MaxCost          float64
	RiskLevel        string
	SimilarTaskCount int
	When             time.Time
}

var riskWeight = map[string]float64{
	"low":      0.5,
	"medium":   1.0,
	"high":     2.0,
	"critical": 3.0,
}

// TaskWeight computes complexity * value * risk * novelty for an
// interaction, per the weighting model the graph accumulates against.
func TaskWeight(in Interaction) float64 {
	complexity := minF(float64(in.ToolCalls)*0.2+float64(in.DurationMs)/10000*0.3, 1.0)
	value := minF(in.MaxCost/10.0, 1.0)
	risk, ok := riskWeight[in.RiskLevel]
	if !ok {
		risk = riskWeight["low"]
	}
	novelty := 1.0 / (1.0 + math.Log(1.0+float64(in.SimilarTaskCount)))
	return complexity * value * risk * novelty
}

// Graph accumulates interactions into weighted edges and derives
// trust from them. Safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	edges map[edgeKey]*edge
	store *ScoreStore
}

// NewGraph returns an empty graph. store supplies each agent's global
// success rate for the reputation-bonus term of composite trust.
func NewGraph(store *ScoreStore) *Graph {
	return &Graph{
		edges: make(map[edgeKey]*edge),
		store: store,
	}
}

// Record folds an interaction into its (from, to, scene) edge,
// updating the consistency EMA against the current global success
// rate reported by the score store.
func (g *Graph) Record(in Interaction) {
	weight := TaskWeight(in)
	key := edgeKey{From: in.From, To: in.To, Scene: in.Scene}

	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.edges[key]
	if !ok {
		e = &edge{consistency: 1.0}
		g.edges[key] = e
	}

	e.totalWeight += weight
	if in.Success {
		e.successfulWeight += weight
	}
	e.interactionCount++
	if in.When.After(e.lastInteraction) {
		e.lastInteraction = in.When
	}

	currentSuccessRate := 0.0
	if g.store != nil {
		currentSuccessRate = g.store.SuccessRate(in.To)
	}
	observedSuccess := 0.0
	if in.Success {
		observedSuccess = 1.0
	}
	e.consistency = 0.9*e.consistency + 0.1*(1-math.Abs(observedSuccess-currentSuccessRate))
}

// DirectTrust is swr * recency * consistency * confidence for the edge
// (from, to, scene). Zero if no edge exists.
func (g *Graph) DirectTrust(from, to, scene string, now time.Time) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[edgeKey{From: from, To: to, Scene: scene}]
	if !ok || e.totalWeight == 0 {
		return 0
	}

	swr := e.successfulWeight / e.totalWeight
	daysSince := now.Sub(e.lastInteraction).Hours() / 24
	if daysSince < 0 {
		daysSince = 0
	}
	recency := math.Exp(-0.01 * daysSince)
	confidence := minF(float64(e.interactionCount)/20.0, 1.0)

	return swr * recency * e.consistency * confidence
}

const maxIndirectDepth = 3

// IndirectTrust finds the strongest path of length in [2, maxIndirectDepth]
// from "from" to "to" through the graph, following only edges in the
// given scene, and discounts a k-hop path by 0.7^(k-1). A direct (single-hop) edge
// does not count as an indirect path even when a longer one also
// exists. Confidence is 0.5 if any qualifying path was found, else 0.
func (g *Graph) IndirectTrust(from, to string, scene string, now time.Time) (trust float64, confidence float64) {
	type frontier struct {
		node  string
		trust float64
		depth int
	}

	g.mu.RLock()
	adjacency := make(map[string][]edgeKey)
	for key := range g.edges {
		adjacency[key.From] = append(adjacency[key.From], key)
	}
	g.mu.RUnlock()

	best := 0.0
	found := false

	queue := []frontier{{node: from, trust: 1.0, depth: 0}}
	visited := map[string]bool{from: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= maxIndirectDepth {
			continue
		}

		for _, key := range adjacency[cur.node] {
			if key.Scene != scene {
				continue
			}
			hopTrust := g.DirectTrust(key.From, key.To, key.Scene, now)
			if hopTrust <= 0 {
				continue
			}
			pathTrust := cur.trust * hopTrust

			if key.To == to && cur.depth >= 1 {
				found = true
				if discounted := pathTrust * math.Pow(0.7, float64(cur.depth)); discounted > best {
					best = discounted
				}
			}

			if !visited[key.To] {
				visited[key.To] = true
				queue = append(queue, frontier{node: key.To, trust: pathTrust, depth: cur.depth + 1})
			}
		}
	}

	if !found {
		return 0, 0
	}
	return best, 0.5
}

// CompositeTrust combines direct trust (weight 0.6), indirect trust
// (weight 0.3), and a reputation bonus from to's global success rate
// (weight 0.1). If direct trust is zero, its weight transfers entirely
// to indirect trust.
func (g *Graph) CompositeTrust(from, to, scene string, now time.Time) float64 {
	direct := g.DirectTrust(from, to, scene, now)
	indirect, _ := g.IndirectTrust(from, to, scene, now)

	alpha, beta, gamma := 0.6, 0.3, 0.1
	if direct == 0 {
		alpha, beta = 0, 0.9
	}

	reputationBonus := 0.0
	if g.store != nil {
		reputationBonus = g.store.SuccessRate(to) * 0.5
	}

	return alpha*direct + beta*indirect + gamma*reputationBonus
}

// BehaviorConsistency is 1 - (maxRate - minRate) over from's outgoing
// edges' success-weight ratios. An agent is flagged suspicious when
// this drops below 0.7: wildly different apparent reliability across
// counterparties is a sign of selective misbehavior.
func (g *Graph) BehaviorConsistency(from string) (score float64, suspicious bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var rates []float64
	for key, e := range g.edges {
		if key.From != from || e.totalWeight == 0 {
			continue
		}
		rates = append(rates, e.successfulWeight/e.totalWeight)
	}

	if len(rates) == 0 {
		return 1.0, false
	}

	minRate, maxRate := rates[0], rates[0]
	for _, r := range rates[1:] {
		if r < minRate {
			minRate = r
		}
		if r > maxRate {
			maxRate = r
		}
	}

	score = 1 - (maxRate - minRate)
	return score, score < 0.7
}

// activity is the per-agent total interaction weight used to rank
// "active" agents for cluster detection.
func (g *Graph) activity() map[string]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	totals := make(map[string]float64)
	for key, e := range g.edges {
		totals[key.From] += e.totalWeight
		totals[key.To] += e.totalWeight
	}
	return totals
}

// clusterWeights sums total interaction weight among exactly
// the agents in set, and the total weight touching any agent in set.
func (g *Graph) clusterWeights(set map[string]bool) (internal, total float64) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for key, e := range g.edges {
		fromIn, toIn := set[key.From], set[key.To]
		if !fromIn && !toIn {
			continue
		}
		total += e.totalWeight
		if fromIn && toIn {
			internal += e.totalWeight
		}
	}
	return internal, total
}

// SuspiciousCluster is a candidate subset of agents whose interactions
// are overwhelmingly among themselves.
type SuspiciousCluster struct {
	Agents       []string `json:"agents"`
	InternalRate float64  `json:"internalRate"`
}

// topNActiveAgents and maxClusterSize bound the combinatorial search:
// clusters are only searched for among the topNActiveAgents most active
// agents, and only subsets up to maxClusterSize are tried.
const (
	topNActiveAgents  = 12
	maxClusterSize    = 5
	minClusterSize    = 2
	internalThreshold = 0.8
)

// DetectSuspiciousClusters searches subsets of the most active agents
// (bounded by topNActiveAgents and maxClusterSize) for groups whose
// internal interaction weight exceeds internalThreshold of their total
// touched weight.
func (g *Graph) DetectSuspiciousClusters() []SuspiciousCluster {
	activity := g.activity()
	agents := topAgentsByActivity(activity, topNActiveAgents)

	var clusters []SuspiciousCluster
	n := len(agents)

	for size := minClusterSize; size <= maxClusterSize && size <= n; size++ {
		combinations(n, size, func(idx []int) {
			set := make(map[string]bool, size)
			members := make([]string, 0, size)
			for _, i := range idx {
				set[agents[i]] = true
				members = append(members, agents[i])
			}
			internal, total := g.clusterWeights(set)
			if total == 0 {
				return
			}
			rate := internal / total
			if rate > internalThreshold {
				clusters = append(clusters, SuspiciousCluster{Agents: members, InternalRate: rate})
			}
		})
	}

	return clusters
}

func topAgentsByActivity(activity map[string]float64, n int) []string {
	type kv struct {
		agent string
		total float64
	}
	all := make([]kv, 0, len(activity))
	for a, t := range activity {
		all = append(all, kv{a, t})
	}
	for i := 1; i < len(all); i++ {
		j := i
		for j > 0 && all[j-1].total < all[j].total {
			all[j-1], all[j] = all[j], all[j-1]
			j--
		}
	}
	if len(all) > n {
		all = all[:n]
	}
	agents := make([]string, len(all))
	for i, e := range all {
		agents[i] = e.agent
	}
	return agents
}

// combinations calls fn with each size-length subset of indices
// [0,n) in increasing order, via standard combinatorial recursion.
func combinations(n, size int, fn func(idx []int)) {
	idx := make([]int, size)
	var recurse func(start, filled int)
	recurse = func(start, filled int) {
		if filled == size {
			fn(append([]int(nil), idx...))
			return
		}
		for i := start; i < n; i++ {
			idx[filled] = i
			recurse(i+1, filled+1)
		}
	}
	recurse(0, 0)
}
