// Copyright 2025 ATEL Network
//
// Package orchestrator is the thin composition layer wiring C1-C8 into
// one delegate -> execute -> verify flow. It owns no cryptographic
// logic of its own; it only sequences calls into identity, envelope,
// consent, gateway, trace, and proof the way a delegating agent and an
// executing agent actually would.
package orchestrator

import (
	"context"
	"time"

	"github.com/atel-network/atpc/pkg/atpcerrors"
	"github.com/atel-network/atpc/pkg/atpclog"
	"github.com/atel-network/atpc/pkg/consent"
	"github.com/atel-network/atpc/pkg/envelope"
	"github.com/atel-network/atpc/pkg/gateway"
	"github.com/atel-network/atpc/pkg/identity"
	"github.com/atel-network/atpc/pkg/proof"
	"github.com/atel-network/atpc/pkg/trace"
	"github.com/atel-network/atpc/pkg/trust"
)

// TaskIntent is the payload a delegator's signed envelope carries.
type TaskIntent struct {
	TaskID  string   `json:"taskId"`
	Type    string   `json:"type"`
	Scopes  []string `json:"scopes"`
	Risk    string   `json:"risk"`
	MaxCost float64  `json:"maxCost"`
}

// DelegatedTask bundles the signed task envelope and the consent token
// minted for it, the two artifacts an executor must verify before
// running anything.
type DelegatedTask struct {
	Envelope *envelope.Envelope
	Token    *consent.ConsentToken
	Intent   TaskIntent
}

// Delegate builds and signs a TASK_DELEGATE envelope from delegator to
// executorDID, and mints a consent token over scopes bounded by
// constraints and riskCeiling.
func Delegate(delegator *identity.AgentIdentity, executorDID string, intent TaskIntent, constraints consent.Constraints, riskCeiling consent.RiskLevel) (*DelegatedTask, error) {
	env, err := envelope.New("TASK_DELEGATE", delegator.DID, executorDID, intent, *delegator)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Validation, "delegate.envelope", err)
	}

	token, err := consent.Mint(delegator.DID, executorDID, intent.Scopes, constraints, riskCeiling, *delegator)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Validation, "delegate.consent", err)
	}

	return &DelegatedTask{Envelope: env, Token: token, Intent: intent}, nil
}

// ExecutionResult is what Execute returns: the finished trace, its
// proof bundle (nil on failure), and whatever the task body returned.
type ExecutionResult struct {
	Trace  *trace.Trace
	Proof  *proof.Bundle
	Output any
}

// TaskBody is user code run under policy enforcement. It may invoke
// tools only through gw.
type TaskBody func(ctx context.Context, gw *gateway.Gateway) (any, error)

// Execute verifies a delegated task's envelope and consent token under
// delegatorPub, then opens a trace, runs body behind a policy-bound
// gateway, and finalizes the trace on success or failure. When body
// fails, the result carries the failed trace (for audit) and no proof
// bundle; a proof bundle is returned only on success. When verification
// or opening the trace fails, no result is returned.
func Execute(ctx context.Context, executor *identity.AgentIdentity, delegatorPub []byte, task *DelegatedTask, registry *gateway.Registry, checkpointInterval int, body TaskBody) (*ExecutionResult, error) {
	logger := atpclog.New("orchestrator")

	ok, err := envelope.VerifyMessage(task.Envelope, delegatorPub, envelope.VerifyOptions{})
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Validation, "execute.verifyEnvelope", err)
	}
	if !ok {
		return nil, atpcerrors.New(atpcerrors.Signature, "delegated task envelope signature invalid")
	}
	if task.Token.Sub != executor.DID {
		return nil, atpcerrors.Newf(atpcerrors.Consent, "InvalidConsent: token subject %s does not match executor %s", task.Token.Sub, executor.DID)
	}
	if err := consent.Verify(task.Token, delegatorPub); err != nil {
		return nil, err
	}

	tr := trace.New(task.Intent.TaskID, executor, checkpointInterval)
	if _, err := tr.Append(trace.EventTaskAccepted, map[string]any{"intent": task.Intent}); err != nil {
		return nil, err
	}

	engine := consent.NewEngine(task.Token)
	gw := gateway.New(registry, engine, tr)

	output, bodyErr := body(ctx, gw)
	if bodyErr != nil {
		if err := tr.Fail(bodyErr.Error()); err != nil {
			logger.Errorf("failed to mark trace failed: %v", err)
		}
		return &ExecutionResult{Trace: tr, Output: output}, bodyErr
	}

	if err := tr.Finalize(output); err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Trace, "execute.finalize", err)
	}

	bundle, err := proof.Build(proof.BuildInput{
		Trace:    tr,
		Executor: executor,
		TaskID:   task.Intent.TaskID,
		Scopes:   task.Intent.Scopes,
		Token:    task.Token,
		Result:   output,
	})
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Proof, "execute.buildProof", err)
	}

	return &ExecutionResult{Trace: tr, Proof: bundle, Output: output}, nil
}

// Verify re-checks a completed execution's proof bundle against its
// trace, the final step a delegator performs on a returned result.
func Verify(bundle *proof.Bundle, tr *trace.Trace) *proof.Report {
	return proof.Verify(bundle, tr)
}

// RecordOutcome folds one completed execution into the trust store and
// graph the delegator maintains about its executors, deriving the
// interaction weight from the task's own risk tier and duration.
func RecordOutcome(scores *trust.ScoreStore, graph *trust.Graph, delegatorID, executorID, scene string, task TaskIntent, toolCalls int, durationMs int64, success bool, violations int) {
	scores.Record(trust.ExecutionSummary{
		Executor:         executorID,
		TaskID:           task.TaskID,
		TaskType:         task.Type,
		RiskLevel:        task.Risk,
		Success:          success,
		DurationMs:       durationMs,
		ToolCalls:        toolCalls,
		PolicyViolations: violations,
		Timestamp:        time.Now(),
	})

	graph.Record(trust.Interaction{
		From:       delegatorID,
		To:         executorID,
		Scene:      scene,
		RiskLevel:  task.Risk,
		Success:    success,
		ToolCalls:  toolCalls,
		DurationMs: durationMs,
		MaxCost:    task.MaxCost,
		When:       time.Now(),
	})
}
