// Copyright 2025 ATEL Network
//
// Package proof implements C7b: the proof bundle summarizing one task
// execution — a Merkle commitment over the trace's event hashes plus
// references to the policy, consent, and result that governed it —
// and the independent verifier that checks a bundle without trusting
// whoever produced it.
package proof

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/atel-network/atpc/pkg/atpcerrors"
	"github.com/atel-network/atpc/pkg/commitment"
	"github.com/atel-network/atpc/pkg/identity"
	"github.com/atel-network/atpc/pkg/merkle"
	"github.com/atel-network/atpc/pkg/trace"
)

// Version is the proof bundle format version.
const Version = "proof.bundle.v0.1"

// Attestation is an open-ended {type, value} pair attached to a bundle.
type Attestation struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Bundle is the single artifact summarizing one execution.
type Bundle struct {
	ProofID      string              `json:"proofId"`
	Version      string              `json:"version"`
	Executor     string              `json:"executor"`
	TaskID       string              `json:"taskId"`
	TraceRoot    string              `json:"traceRoot"`
	TraceLength  int                 `json:"traceLength"`
	Checkpoints  []trace.Checkpoint  `json:"checkpoints"`
	PolicyRef    string              `json:"policyRef"`
	ConsentRef   string              `json:"consentRef"`
	ResultRef    string              `json:"resultRef"`
	Attestations []Attestation       `json:"attestations"`
	CreatedAt    string              `json:"createdAt"`
	Signature    string              `json:"signature,omitempty"`
}

func withoutSignature(b Bundle) Bundle {
	b.Signature = ""
	return b
}

// BuildInput collects everything Build needs to assemble a bundle from
// a finalized (or failed) trace.
type BuildInput struct {
	Trace    *trace.Trace
	Executor *identity.AgentIdentity
	TaskID   string
	Scopes   []string
	Token    any
	Result   any
}

// Build assembles and signs a proof bundle from in.Trace's event
// hashes, referencing in.Scopes (policy), in.Token (consent), and
// in.Result via their canonical SHA-256 hashes.
func Build(in BuildInput) (*Bundle, error) {
	leaves, err := in.Trace.LeafHashes()
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Proof, "build.leafHashes", err)
	}
	root, err := merkle.Root(leaves)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Proof, "build.root", err)
	}

	policyRef, err := commitment.HashCanonicalHex(in.Scopes)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Proof, "build.policyRef", err)
	}
	consentRef, err := commitment.HashCanonicalHex(in.Token)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Proof, "build.consentRef", err)
	}
	resultRef, err := commitment.HashCanonicalHex(in.Result)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Proof, "build.resultRef", err)
	}

	verifyResult := in.Trace.Verify(in.Executor.PublicKey)
	attestations := []Attestation{
		{Type: "trace_verified", Value: boolString(verifyResult.Valid)},
		{Type: "event_count", Value: strconv.Itoa(in.Trace.Len())},
	}
	if in.Trace.State() == "FINALIZED" {
		attestations = append(attestations, Attestation{Type: "finalized", Value: "true"})
	}

	bundle := Bundle{
		ProofID:      uuid.NewString(),
		Version:      Version,
		Executor:     in.Executor.DID,
		TaskID:       in.TaskID,
		TraceRoot:    hex.EncodeToString(root),
		TraceLength:  in.Trace.Len(),
		Checkpoints:  in.Trace.Checkpoints(),
		PolicyRef:    policyRef,
		ConsentRef:   consentRef,
		ResultRef:    resultRef,
		Attestations: attestations,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}

	sig, err := identity.Sign(withoutSignature(bundle), in.Executor.SecretKey)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Proof, "build.sign", err)
	}
	bundle.Signature = sig
	return &bundle, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// CheckResult is the outcome of a single named verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Report is the structured outcome of verifying a bundle.
type Report struct {
	Valid  bool          `json:"valid"`
	Checks []CheckResult `json:"checks"`
}

func (r *Report) add(name string, passed bool, detail string) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Passed: passed, Detail: detail})
	if !passed {
		r.Valid = false
	}
}

// Verify independently checks a bundle: structure, signature, and
// reference presence, plus (only if tr is given) trace
// self-verification and length, Merkle root, and checkpoint signatures.
func Verify(bundle *Bundle, tr *trace.Trace) *Report {
	report := &Report{Valid: true}

	report.add("structure", hasRequiredFields(bundle), "required fields present")

	executorPub, err := identity.ParseDID(bundle.Executor)
	if err != nil {
		report.add("signature", false, "cannot parse executor DID: "+err.Error())
	} else {
		ok, err := identity.Verify(withoutSignature(*bundle), bundle.Signature, executorPub)
		if err != nil || !ok {
			report.add("signature", false, "bundle signature invalid")
		} else {
			report.add("signature", true, "")
		}

		if tr != nil {
			result := tr.Verify(executorPub)
			traceOK := result.Valid && tr.Len() == bundle.TraceLength
			detail := ""
			if !result.Valid {
				detail = "trace self-verification failed"
			} else if tr.Len() != bundle.TraceLength {
				detail = "traceLength mismatch"
			}
			report.add("trace", traceOK, detail)

			leaves, err := tr.LeafHashes()
			if err != nil {
				report.add("merkleRoot", false, "cannot compute leaf hashes: "+err.Error())
			} else {
				root, err := merkle.Root(leaves)
				if err != nil {
					report.add("merkleRoot", false, "cannot rebuild root: "+err.Error())
				} else {
					report.add("merkleRoot", hex.EncodeToString(root) == bundle.TraceRoot, "")
				}
			}

			report.add("checkpoints", checkpointsValid(bundle, tr, executorPub), "")
		}
	}

	report.add("references", bundle.PolicyRef != "" && bundle.ConsentRef != "" && bundle.ResultRef != "", "policyRef/consentRef/resultRef must be non-empty")

	return report
}

func hasRequiredFields(b *Bundle) bool {
	return b.ProofID != "" && b.Version != "" && b.Executor != "" && b.TaskID != "" &&
		b.TraceRoot != "" && b.Signature != ""
}

func checkpointsValid(bundle *Bundle, tr *trace.Trace, executorPub []byte) bool {
	traceHashes := make(map[string]bool, tr.Len())
	for _, e := range tr.Events() {
		traceHashes[e.Hash] = true
	}

	for _, cp := range bundle.Checkpoints {
		if !traceHashes[cp.Hash] {
			return false
		}
		ok, err := identity.Verify(cp.Hash, cp.Sig, executorPub)
		if err != nil || !ok {
			return false
		}
	}
	return true
}
