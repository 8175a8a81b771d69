// Copyright 2025 ATEL Network
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/atel-network/atpc/pkg/atpcerrors"
	"github.com/atel-network/atpc/pkg/atpclog"
	"github.com/atel-network/atpc/pkg/commitment"
	"github.com/atel-network/atpc/pkg/consent"
	"github.com/atel-network/atpc/pkg/trace"
)

// Status is the outcome of one gateway call.
type Status string

const (
	StatusOK                  Status = "ok"
	StatusError                Status = "error"
	StatusUnauthorized         Status = "unauthorized"
	StatusConfirmationRequired Status = "confirmation_required"
)

// CallResult is what a gateway call returns to its caller.
type CallResult struct {
	Output     any    `json:"output,omitempty"`
	Status     Status `json:"status"`
	DurationMs int64  `json:"durationMs"`
	InputHash  string `json:"inputHash"`
	OutputHash string `json:"outputHash,omitempty"`
}

// CallLogEntry records one completed call for local audit/trust
// accounting, independent of whatever trace events were also emitted.
type CallLogEntry struct {
	Tool       string
	Method     string
	Status     Status
	DurationMs int64
	Timestamp  time.Time
}

// Gateway mediates every tool invocation for one task: it is the sole
// point where policy is enforced and trace events for tool activity
// are emitted.
type Gateway struct {
	registry *Registry
	engine   *consent.Engine
	trace    *trace.Trace // optional; nil means no trace is attached
	logger   *atpclog.Logger

	mu      sync.Mutex
	callLog []CallLogEntry
}

// New binds a gateway to registry and the consent engine enforcing its
// calls. tr may be nil if no trace should be recorded.
func New(registry *Registry, engine *consent.Engine, tr *trace.Trace) *Gateway {
	return &Gateway{
		registry: registry,
		engine:   engine,
		trace:    tr,
		logger:   atpclog.New("gateway"),
	}
}

// Call runs the full mediated-egress pipeline for tool ("category.method"):
// lookup, policy evaluation, quota decrement, input hashing, optional
// trace append, handler invocation with captured errors, output
// hashing, and a second optional trace append.
func (g *Gateway) Call(ctx context.Context, tool string, input any, requestedRisk consent.RiskLevel, dataScope string) (*CallResult, error) {
	handler, err := g.registry.Lookup(tool)
	if err != nil {
		return nil, err
	}
	category, method, err := toolKey(tool)
	if err != nil {
		return nil, err
	}

	decision := g.engine.Evaluate(consent.ProposedAction{Tool: category, Method: method, DataScope: dataScope}, requestedRisk)
	switch decision {
	case consent.DecisionDeny:
		g.appendPolicyViolation(tool, "denied")
		return nil, atpcerrors.Newf(atpcerrors.Policy, "Unauthorized: %s denied by policy", tool)
	case consent.DecisionNeedsConfirm:
		return nil, atpcerrors.Newf(atpcerrors.Policy, "ConfirmationRequired: %s requires explicit confirmation", tool)
	}

	if err := g.engine.RecordCall(); err != nil {
		return nil, err
	}

	inputHash, err := commitment.HashCanonicalHex(input)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Gateway, "call.hashInput", err)
	}

	g.appendTrace(trace.EventToolCall, map[string]any{"tool": tool, "inputHash": inputHash})

	start := time.Now()
	output, handlerErr := handler(ctx, input)
	duration := time.Since(start).Milliseconds()

	status := StatusOK
	if handlerErr != nil {
		output = map[string]any{"error": handlerErr.Error()}
		status = StatusError
		g.logger.Warnf("tool %s handler error: %v", tool, handlerErr)
	}

	outputHash, err := commitment.HashCanonicalHex(output)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Gateway, "call.hashOutput", err)
	}

	g.appendTrace(trace.EventToolResult, map[string]any{"tool": tool, "status": status, "outputHash": outputHash, "durationMs": duration})

	g.mu.Lock()
	g.callLog = append(g.callLog, CallLogEntry{Tool: category, Method: method, Status: status, DurationMs: duration, Timestamp: start})
	g.mu.Unlock()

	return &CallResult{
		Output:     output,
		Status:     status,
		DurationMs: duration,
		InputHash:  inputHash,
		OutputHash: outputHash,
	}, nil
}

// CallLog returns a copy of every call recorded so far.
func (g *Gateway) CallLog() []CallLogEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CallLogEntry, len(g.callLog))
	copy(out, g.callLog)
	return out
}

func (g *Gateway) appendTrace(typ trace.EventType, data any) {
	if g.trace == nil {
		return
	}
	if _, err := g.trace.Append(typ, data); err != nil {
		g.logger.Errorf("failed to append %s event: %v", typ, err)
	}
}

// appendPolicyViolation appends a POLICY_VIOLATION event to the trace
// for a denied call, preserving the attempt even though the handler
// never ran. The trace itself stays open.
func (g *Gateway) appendPolicyViolation(tool, reason string) {
	g.appendTrace(trace.EventPolicyViolation, map[string]any{"tool": tool, "reason": reason})
}
