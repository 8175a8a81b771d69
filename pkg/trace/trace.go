// Copyright 2025 ATEL Network
//
// Package trace implements C7a: the append-only, hash-chained event
// log that records one task's execution, with periodic signed
// checkpoints. A trace is owned exclusively by the task that opened
// it — single writer, no internal locking.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/atel-network/atpc/pkg/atpcerrors"
	"github.com/atel-network/atpc/pkg/commitment"
	"github.com/atel-network/atpc/pkg/identity"
	"github.com/atel-network/atpc/pkg/merkle"
)

// EventType is one of the closed set of trace event kinds.
type EventType string

const (
	EventTaskAccepted    EventType = "TASK_ACCEPTED"
	EventToolCall        EventType = "TOOL_CALL"
	EventToolResult      EventType = "TOOL_RESULT"
	EventTaskResult       EventType = "TASK_RESULT"
	EventTaskFailed      EventType = "TASK_FAILED"
	EventCheckpoint      EventType = "CHECKPOINT"
	EventRollback        EventType = "ROLLBACK"
	EventPolicyViolation EventType = "POLICY_VIOLATION"
)

// genesisPrev is the fixed previous-hash value for the first event in
// a trace.
const genesisPrev = "0x00"

// DefaultCheckpointInterval is the default number of events between
// automatic CHECKPOINT insertions.
const DefaultCheckpointInterval = 50

// Event is one entry in a trace's hash-chained log.
type Event struct {
	Seq    int       `json:"seq"`
	TS     string    `json:"ts"`
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
	Data   any       `json:"data"`
	Prev   string    `json:"prev"`
	Hash   string    `json:"hash"`
	Sig    string    `json:"sig,omitempty"`
}

// State is the lifecycle stage of a trace.
type State string

const (
	StateOpen      State = "OPEN"
	StateFinalized State = "FINALIZED"
	StateFailed    State = "FAILED"
)

// checkpointData is the structured body of a CHECKPOINT event.
type checkpointData struct {
	MerkleRoot string `json:"merkleRoot"`
	EventCount int    `json:"eventCount"`
	ToolCalls  int    `json:"toolCalls"`
	LastHash   string `json:"lastHash"`
}

// Trace is the append-only log for one task execution.
type Trace struct {
	TaskID             string
	events             []Event
	state              State
	checkpointInterval int
	eventsSinceLast    int
	toolCallCount      int
	signer             *identity.AgentIdentity
}

// New opens a trace for taskID, owned and signed by signer. A zero
// checkpointInterval uses DefaultCheckpointInterval.
func New(taskID string, signer *identity.AgentIdentity, checkpointInterval int) *Trace {
	if checkpointInterval <= 0 {
		checkpointInterval = DefaultCheckpointInterval
	}
	return &Trace{
		TaskID:             taskID,
		state:              StateOpen,
		checkpointInterval: checkpointInterval,
		signer:             signer,
	}
}

// State returns the trace's current lifecycle state.
func (t *Trace) State() State { return t.state }

// Events returns the full event list. Callers must not mutate it.
func (t *Trace) Events() []Event { return t.events }

// Len returns the number of events recorded so far.
func (t *Trace) Len() int { return len(t.events) }

func hashEvent(seq int, ts string, typ EventType, dataHashHex, prev string) string {
	input := fmt.Sprintf("%d|%s|%s|%s|%s", seq, ts, typ, dataHashHex, prev)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Append records a new event of the given type and data. It fails if
// the trace is finalized or failed. If the events-since-last-checkpoint
// counter reaches the configured interval, a CHECKPOINT event is
// automatically inserted afterward.
func (t *Trace) Append(typ EventType, data any) (*Event, error) {
	if t.state != StateOpen {
		return nil, atpcerrors.Newf(atpcerrors.Trace, "append: trace is %s", t.state)
	}

	event, err := t.appendRaw(typ, data)
	if err != nil {
		return nil, err
	}

	if typ == EventToolCall {
		t.toolCallCount++
	}

	if typ != EventCheckpoint {
		t.eventsSinceLast++
		if t.eventsSinceLast >= t.checkpointInterval {
			if _, err := t.insertCheckpoint(); err != nil {
				return event, err
			}
			t.eventsSinceLast = 0
		}
	}

	return event, nil
}

// appendRaw performs the core chain-extension logic shared by Append
// and the internal checkpoint/finalize/fail paths.
func (t *Trace) appendRaw(typ EventType, data any) (*Event, error) {
	seq := len(t.events)
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	prev := genesisPrev
	if seq > 0 {
		prev = t.events[seq-1].Hash
	}

	dataHash, err := commitment.HashCanonicalHex(data)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Trace, "append.hashData", err)
	}

	event := Event{
		Seq:    seq,
		TS:     ts,
		Type:   typ,
		TaskID: t.TaskID,
		Data:   data,
		Prev:   prev,
		Hash:   hashEvent(seq, ts, typ, dataHash, prev),
	}

	t.events = append(t.events, event)
	return &t.events[len(t.events)-1], nil
}

// insertCheckpoint builds and signs a CHECKPOINT event over the event
// hashes collected so far, bypassing the automatic-insertion counter.
func (t *Trace) insertCheckpoint() (*Event, error) {
	leaves := make([][]byte, 0, len(t.events))
	for _, e := range t.events {
		raw, err := hex.DecodeString(e.Hash)
		if err != nil {
			return nil, atpcerrors.Wrap(atpcerrors.Trace, "insertCheckpoint.decodeLeaf", err)
		}
		leaves = append(leaves, raw)
	}

	root, err := merkle.Root(leaves)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Trace, "insertCheckpoint.root", err)
	}

	data := checkpointData{
		MerkleRoot: hex.EncodeToString(root),
		EventCount: len(t.events),
		ToolCalls:  t.toolCallCount,
		LastHash:   t.events[len(t.events)-1].Hash,
	}

	event, err := t.appendRaw(EventCheckpoint, data)
	if err != nil {
		return nil, err
	}

	sig, err := signHash(t.signer, event.Hash)
	if err != nil {
		return nil, err
	}
	t.events[len(t.events)-1].Sig = sig
	return &t.events[len(t.events)-1], nil
}

func signHash(signer *identity.AgentIdentity, hash string) (string, error) {
	sig, err := identity.Sign(hash, signer.SecretKey)
	if err != nil {
		return "", atpcerrors.Wrap(atpcerrors.Trace, "signHash", err)
	}
	return sig, nil
}

// Finalize appends a TASK_RESULT event and marks the trace finalized.
// No further appends are permitted.
func (t *Trace) Finalize(result any) error {
	if t.state != StateOpen {
		return atpcerrors.Newf(atpcerrors.Trace, "finalize: trace is %s", t.state)
	}
	if _, err := t.appendRaw(EventTaskResult, result); err != nil {
		return err
	}
	t.state = StateFinalized
	return nil
}

// Fail appends a TASK_FAILED event and marks the trace failed. No
// further appends are permitted.
func (t *Trace) Fail(reason string) error {
	if t.state != StateOpen {
		return atpcerrors.Newf(atpcerrors.Trace, "fail: trace is %s", t.state)
	}
	if _, err := t.appendRaw(EventTaskFailed, map[string]any{"reason": reason}); err != nil {
		return err
	}
	t.state = StateFailed
	return nil
}

// VerificationResult is the outcome of replaying a trace.
type VerificationResult struct {
	Valid  bool
	Errors []string
}

// Verify replays each event: re-computing expected prev/hash, and for
// checkpoint events, validating the signature under the agent's public
// key.
func (t *Trace) Verify(pub []byte) VerificationResult {
	result := VerificationResult{Valid: true}

	prev := genesisPrev
	for _, e := range t.events {
		if e.Prev != prev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("seq %d: prev mismatch: got %s want %s", e.Seq, e.Prev, prev))
		}

		dataHash, err := commitment.HashCanonicalHex(e.Data)
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("seq %d: cannot hash data: %v", e.Seq, err))
			prev = e.Hash
			continue
		}
		expectedHash := hashEvent(e.Seq, e.TS, e.Type, dataHash, e.Prev)
		if expectedHash != e.Hash {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("seq %d: hash mismatch", e.Seq))
		}

		if e.Type == EventCheckpoint {
			ok, err := identity.Verify(e.Hash, e.Sig, pub)
			if err != nil || !ok {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf("seq %d: checkpoint signature invalid", e.Seq))
			}
		}

		prev = e.Hash
	}

	return result
}

// LeafHashes returns the raw 32-byte leaf hashes of every event, in
// order, for Merkle tree construction.
func (t *Trace) LeafHashes() ([][]byte, error) {
	leaves := make([][]byte, 0, len(t.events))
	for _, e := range t.events {
		raw, err := hex.DecodeString(e.Hash)
		if err != nil {
			return nil, atpcerrors.Wrap(atpcerrors.Trace, "leafHashes", err)
		}
		leaves = append(leaves, raw)
	}
	return leaves, nil
}

// Checkpoints extracts the {seq, hash, sig} triple of every CHECKPOINT
// event in the trace.
func (t *Trace) Checkpoints() []Checkpoint {
	var out []Checkpoint
	for _, e := range t.events {
		if e.Type == EventCheckpoint {
			out = append(out, Checkpoint{Seq: e.Seq, Hash: e.Hash, Sig: e.Sig})
		}
	}
	return out
}

// Checkpoint is the compact {seq, hash, sig} triple referenced by a
// proof bundle.
type Checkpoint struct {
	Seq  int    `json:"seq"`
	Hash string `json:"hash"`
	Sig  string `json:"sig"`
}
