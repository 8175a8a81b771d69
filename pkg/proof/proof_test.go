package proof

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/atel-network/atpc/pkg/identity"
	"github.com/atel-network/atpc/pkg/trace"
)

func mustExecutor(t *testing.T) *identity.AgentIdentity {
	t.Helper()
	id, err := identity.NewAgentIdentity("executor", nil)
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	return id
}

func happyPathTrace(t *testing.T, signer *identity.AgentIdentity) *trace.Trace {
	t.Helper()
	tr := trace.New("task-1", signer, 50)
	mustAppend := func(typ trace.EventType, data any) {
		if _, err := tr.Append(typ, data); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}
	mustAppend(trace.EventTaskAccepted, map[string]any{"intent": "web_search"})
	mustAppend(trace.EventToolCall, map[string]any{"tool": "http.get"})
	mustAppend(trace.EventToolResult, map[string]any{"status": "ok"})
	if err := tr.Finalize(map[string]any{"results": []string{"x"}}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return tr
}

func TestBuildAndVerifyHappyPath(t *testing.T) {
	executor := mustExecutor(t)
	tr := happyPathTrace(t, executor)

	bundle, err := Build(BuildInput{
		Trace:    tr,
		Executor: executor,
		TaskID:   "task-1",
		Scopes:   []string{"tool:http:get"},
		Token:    map[string]any{"iss": executor.DID},
		Result:   map[string]any{"results": []string{"x"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if bundle.TraceLength < 4 {
		t.Fatalf("expected traceLength >= 4, got %d", bundle.TraceLength)
	}

	report := Verify(bundle, tr)
	if !report.Valid {
		t.Fatalf("expected valid bundle, checks: %+v", report.Checks)
	}
}

func TestVerifyDetectsTamperedTraceRoot(t *testing.T) {
	executor := mustExecutor(t)
	tr := happyPathTrace(t, executor)

	bundle, err := Build(BuildInput{
		Trace:    tr,
		Executor: executor,
		TaskID:   "task-1",
		Scopes:   []string{"tool:http:get"},
		Token:    map[string]any{"iss": executor.DID},
		Result:   map[string]any{"results": []string{"x"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	bundle.TraceRoot = "00" + bundle.TraceRoot[2:]

	report := Verify(bundle, tr)
	if report.Valid {
		t.Fatalf("expected tampered traceRoot to invalidate the bundle")
	}
}

func TestVerifyRejectsMissingReferences(t *testing.T) {
	executor := mustExecutor(t)
	tr := happyPathTrace(t, executor)

	bundle, err := Build(BuildInput{
		Trace:    tr,
		Executor: executor,
		TaskID:   "task-1",
		Scopes:   []string{"tool:http:get"},
		Token:    map[string]any{"iss": executor.DID},
		Result:   map[string]any{"results": []string{"x"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	bundle.PolicyRef = ""
	bundle.Signature, err = identity.Sign(withoutSignature(*bundle), executor.SecretKey)
	if err != nil {
		t.Fatalf("resign: %v", err)
	}

	report := Verify(bundle, tr)
	if report.Valid {
		t.Fatalf("expected missing policyRef to invalidate the bundle")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	executor := mustExecutor(t)
	tr := happyPathTrace(t, executor)

	bundle, err := Build(BuildInput{
		Trace:    tr,
		Executor: executor,
		TaskID:   "task-1",
		Scopes:   []string{"tool:http:get"},
		Token:    map[string]any{"iss": executor.DID},
		Result:   map[string]any{"results": []string{"x"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	bundle.TaskID = "task-2"

	report := Verify(bundle, tr)
	if report.Valid {
		t.Fatalf("expected modified taskId to invalidate the bundle's signature")
	}
}

func TestBundleRoundTripsThroughJSON(t *testing.T) {
	executor := mustExecutor(t)
	tr := happyPathTrace(t, executor)

	bundle, err := Build(BuildInput{
		Trace:    tr,
		Executor: executor,
		TaskID:   "task-1",
		Scopes:   []string{"tool:http:get"},
		Token:    map[string]any{"iss": executor.DID},
		Result:   map[string]any{"results": []string{"x"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	raw, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var roundTripped Bundle
	if err := json.Unmarshal(raw, &roundTripped); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if diff := cmp.Diff(*bundle, roundTripped); diff != "" {
		t.Fatalf("bundle changed shape across a JSON round trip (-want +got):\n%s", diff)
	}
}

func TestVerifyRejectsTraceLengthMismatch(t *testing.T) {
	executor := mustExecutor(t)
	tr := happyPathTrace(t, executor)

	bundle, err := Build(BuildInput{
		Trace:    tr,
		Executor: executor,
		TaskID:   "task-1",
		Scopes:   []string{"tool:http:get"},
		Token:    map[string]any{"iss": executor.DID},
		Result:   map[string]any{"results": []string{"x"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if _, err := tr.Append(trace.EventRollback, map[string]any{}); err == nil {
		t.Fatalf("expected append after finalize to fail, trace should not grow past bundle snapshot")
	}

	// Simulate a bundle claiming a different length than the trace has.
	bundle.TraceLength = tr.Len() + 1
	bundle.Signature, err = identity.Sign(withoutSignature(*bundle), executor.SecretKey)
	if err != nil {
		t.Fatalf("resign: %v", err)
	}

	report := Verify(bundle, tr)
	if report.Valid {
		t.Fatalf("expected traceLength mismatch to invalidate the bundle")
	}
}
