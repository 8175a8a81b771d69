// Copyright 2025 ATEL Network
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/atel-network/atpc/pkg/consent"
	"github.com/atel-network/atpc/pkg/envelope"
	"github.com/atel-network/atpc/pkg/gateway"
	"github.com/atel-network/atpc/pkg/handshake"
	"github.com/atel-network/atpc/pkg/orchestrator"
	"github.com/atel-network/atpc/pkg/proof"
)

// handleHealth reports liveness and the identity this instance runs as.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"did":    s.self.DID,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCapability advertises this instance's DID, proof bundle version
// and supported tools so a prospective delegator can decide whether to
// hand it a task before spending a handshake on it.
func (s *server) handleCapability(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"did":     s.self.DID,
		"version": proof.Version,
		"tools":   []string{"demo.echo"},
	})
}

// handleHandshakeInit accepts a HANDSHAKE_INIT envelope and returns the
// signed HANDSHAKE_ACK response, B's side of the exchange.
func (s *server) handleHandshakeInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var body struct {
		Envelope *envelope.Envelope     `json:"envelope"`
		Init     handshake.InitPayload  `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ack, err := s.handshakes.HandleInit(body.Envelope, body.Init)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// taskRequest is the body of a POST /task request: a delegated task
// this instance should execute as the named executor.
type taskRequest struct {
	Task            *orchestrator.DelegatedTask `json:"task"`
	DelegatorPubB64 string                      `json:"delegatorPublicKey"`
}

// handleTask executes a previously delegated task against this
// instance's demo tool registry and returns the resulting proof bundle.
func (s *server) handleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Task == nil {
		writeError(w, http.StatusBadRequest, "missing task")
		return
	}

	delegatorPub, err := decodeBase64Key(req.DelegatorPubB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed delegator public key")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HandshakeTimeout)
	defer cancel()

	result, err := orchestrator.Execute(ctx, s.self, delegatorPub, req.Task, s.registry, s.cfg.CheckpointInterval, func(ctx context.Context, gw *gateway.Gateway) (any, error) {
		return gw.Call(ctx, "demo.echo", req.Task.Intent, consent.RiskLow, "")
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.mu.Lock()
	s.proofsByTaskID[req.Task.Intent.TaskID] = proofRecord{task: req.Task.Intent}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"proof":  result.Proof,
		"output": result.Output,
	})
}

// proofVerifyRequest is the body of a POST /proof request.
type proofVerifyRequest struct {
	Bundle *proof.Bundle `json:"bundle"`
}

// handleProofVerify independently re-verifies a proof bundle. No trace
// accompanies the bundle, so only its structure, signature, and
// references are checked; the hash-chain, Merkle root, and checkpoint
// checks that need the trace are skipped.
func (s *server) handleProofVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req proofVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Bundle == nil {
		writeError(w, http.StatusBadRequest, "missing bundle")
		return
	}

	report := proof.Verify(req.Bundle, nil)
	writeJSON(w, http.StatusOK, report)
}

// trustQueryRequest is the body of a POST /trust/query request.
type trustQueryRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Scene string `json:"scene"`
}

// handleTrustQuery reports the composite trust one agent should extend
// to another within a scene, and the subject's own reputation score.
func (s *server) handleTrustQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req trustQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	composite := s.graph.CompositeTrust(req.From, req.To, req.Scene, time.Now())
	score := s.scores.Compute(req.To)

	writeJSON(w, http.StatusOK, map[string]any{
		"from":      req.From,
		"to":        req.To,
		"scene":     req.Scene,
		"composite": composite,
		"score":     score,
	})
}

// resultCallbackRequest is the body of the executor-facing POST /result
// callback: an external executor signals task completion this way.
type resultCallbackRequest struct {
	TaskID  string `json:"taskId"`
	Result  any    `json:"result"`
	Success bool   `json:"success"`
}

// handleResult accepts an out-of-band completion signal from an
// external executor and acknowledges it. It logs a warning when the task
// is not one this instance executed via POST /task; it does not record
// the outcome in the trust score store or graph.
func (s *server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req resultCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	_, known := s.proofsByTaskID[req.TaskID]
	s.mu.Unlock()
	if !known {
		s.logger.Warnf("result callback for unknown task %s", req.TaskID)
	}

	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func decodeBase64Key(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
