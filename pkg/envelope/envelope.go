// Copyright 2025 ATEL Network
//
// Package envelope implements C2: signed message envelopes and the
// nonce tracker that defends against their replay. An envelope wraps
// any typed payload with routing metadata and a detached signature
// over everything but the signature field itself.
package envelope

import (
	"time"

	"github.com/google/uuid"

	"github.com/atel-network/atpc/pkg/atpcerrors"
	"github.com/atel-network/atpc/pkg/identity"
)

const (
	// EnvelopeTag is the fixed value of the envelope field for every
	// message this package produces.
	EnvelopeTag = "atel.msg.v1"

	// DefaultMaxAge is the default acceptance window for a message
	// timestamp relative to the verifier's clock.
	DefaultMaxAge = 5 * time.Minute
)

// Envelope is the wire unit every ATPC message is carried in.
type Envelope struct {
	Envelope  string `json:"envelope"`
	Type      string `json:"type"`
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp string `json:"timestamp"`
	Nonce     string `json:"nonce"`
	Payload   any    `json:"payload"`
	Signature string `json:"signature,omitempty"`
}

// New constructs and signs an Envelope of the given type, carrying
// payload from `from` to `to`, signed by from's secret key.
func New(msgType, from, to string, payload any, secret identity.AgentIdentity) (*Envelope, error) {
	env := &Envelope{
		Envelope:  EnvelopeTag,
		Type:      msgType,
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Nonce:     uuid.NewString(),
		Payload:   payload,
	}

	sig, err := identity.Sign(withoutSignature(env), secret.SecretKey)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Signature, "envelope.sign", err)
	}
	env.Signature = sig
	return env, nil
}

// withoutSignature returns a copy of env with Signature cleared, the
// object the signature is computed and verified over.
func withoutSignature(env *Envelope) Envelope {
	cp := *env
	cp.Signature = ""
	return cp
}

// VerifyOptions configures VerifyMessage.
type VerifyOptions struct {
	// MaxAge overrides DefaultMaxAge. Zero means use the default.
	MaxAge time.Duration
	// SkipTimestampCheck disables the age check entirely, e.g. for
	// replaying historical envelopes from a trace.
	SkipTimestampCheck bool
}

// VerifyMessage checks msg's required fields, timestamp freshness, and
// signature, in that order, against pub.
func VerifyMessage(msg *Envelope, pub []byte, opts VerifyOptions) (bool, error) {
	if err := checkRequiredFields(msg); err != nil {
		return false, err
	}

	if !opts.SkipTimestampCheck {
		maxAge := opts.MaxAge
		if maxAge == 0 {
			maxAge = DefaultMaxAge
		}
		ts, err := time.Parse(time.RFC3339, msg.Timestamp)
		if err != nil {
			return false, atpcerrors.Wrap(atpcerrors.Validation, "verifyMessage.timestamp", err)
		}
		if age := time.Since(ts); age > maxAge || age < -maxAge {
			return false, atpcerrors.Newf(atpcerrors.Validation, "timestamp outside acceptance window: age=%s max=%s", age, maxAge)
		}
	}

	ok, err := identity.Verify(withoutSignature(msg), msg.Signature, pub)
	if err != nil {
		return false, atpcerrors.Wrap(atpcerrors.Signature, "verifyMessage.signature", err)
	}
	return ok, nil
}

func checkRequiredFields(msg *Envelope) error {
	switch {
	case msg.Envelope != EnvelopeTag:
		return atpcerrors.Newf(atpcerrors.Validation, "unexpected envelope tag %q", msg.Envelope)
	case msg.Type == "":
		return atpcerrors.New(atpcerrors.Validation, "missing type")
	case msg.ID == "":
		return atpcerrors.New(atpcerrors.Validation, "missing id")
	case msg.From == "":
		return atpcerrors.New(atpcerrors.Validation, "missing from")
	case msg.To == "":
		return atpcerrors.New(atpcerrors.Validation, "missing to")
	case msg.Timestamp == "":
		return atpcerrors.New(atpcerrors.Validation, "missing timestamp")
	case msg.Nonce == "":
		return atpcerrors.New(atpcerrors.Validation, "missing nonce")
	case msg.Signature == "":
		return atpcerrors.New(atpcerrors.Validation, "missing signature")
	}
	return nil
}
