// Copyright 2025 ATEL Network
//
// Package identity implements C1: long-term Ed25519 agent identities,
// their DID encoding, canonical-value signing, and key rotation proofs.
// Every other ATPC component ultimately verifies a signature produced
// here, so the canonicalize/sign/verify triplet is the bedrock the rest
// of the protocol is built on.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/mr-tron/base58"

	"github.com/atel-network/atpc/pkg/atpcerrors"
	"github.com/atel-network/atpc/pkg/commitment"
)

const (
	didPrefix       = "did:atel:ed25519:"
	didLegacyPrefix = "did:atel:"
)

// AgentIdentity is a long-term identity: a signing key pair plus the DID
// derived from its public half. The secret key is held only by the
// owner and is expected to be destroyed with the process.
type AgentIdentity struct {
	AgentID   string
	DID       string
	PublicKey ed25519.PublicKey
	SecretKey ed25519.PrivateKey
	Metadata  map[string]any
}

// KeyRotationProof attests that DID oldDid's owner authorized handing
// control over to newDid's public key, signed by both the old and the
// new secret keys.
type KeyRotationProof struct {
	OldDID       string `json:"oldDid"`
	NewDID       string `json:"newDid"`
	NewPublicKey string `json:"newPublicKey"`
	Timestamp    string `json:"timestamp"`
	OldSignature string `json:"oldSignature"`
	NewSignature string `json:"newSignature"`
}

// GenerateKeyPair produces a fresh Ed25519 signing key pair.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, sec, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, atpcerrors.Wrap(atpcerrors.Identity, "generateKeyPair", err)
	}
	return pub, sec, nil
}

// NewAgentIdentity generates a fresh key pair and derives its identity.
func NewAgentIdentity(agentID string, metadata map[string]any) (*AgentIdentity, error) {
	pub, sec, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &AgentIdentity{
		AgentID:   agentID,
		DID:       CreateDID(pub),
		PublicKey: pub,
		SecretKey: sec,
		Metadata:  metadata,
	}, nil
}

// CreateDID derives the canonical did:atel:ed25519:<base58(pub)> string
// from a public key. DID is a pure function of the public key.
func CreateDID(pub ed25519.PublicKey) string {
	return didPrefix + base58.Encode(pub)
}

// ParseDID recovers the Ed25519 public key encoded in a DID, accepting
// both the current did:atel:ed25519:<b58> form and the legacy
// did:atel:<b58> form.
func ParseDID(did string) (ed25519.PublicKey, error) {
	var encoded string
	switch {
	case len(did) > len(didPrefix) && did[:len(didPrefix)] == didPrefix:
		encoded = did[len(didPrefix):]
	case len(did) > len(didLegacyPrefix) && did[:len(didLegacyPrefix)] == didLegacyPrefix:
		encoded = did[len(didLegacyPrefix):]
	default:
		return nil, atpcerrors.Newf(atpcerrors.Identity, "InvalidDID: unrecognized prefix in %q", did)
	}

	decoded, err := base58.Decode(encoded)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Identity, "parseDID", err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, atpcerrors.Newf(atpcerrors.Identity, "InvalidDID: decoded length %d, want %d", len(decoded), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(decoded), nil
}

// Canonicalize produces the deterministic JSON serialization of value
// that every signature and hash in ATPC operates over.
func Canonicalize(value any) ([]byte, error) {
	raw, err := commitment.Canonicalize(value)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Identity, "canonicalize", err)
	}
	return raw, nil
}

// Sign canonicalizes value and returns a base64-encoded detached
// Ed25519 signature over the canonical bytes.
func Sign(value any, secret ed25519.PrivateKey) (string, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return "", atpcerrors.Newf(atpcerrors.Identity, "InvalidKeyLength: secret key length %d, want %d", len(secret), ed25519.PrivateKeySize)
	}
	canon, err := Canonicalize(value)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(secret, canon)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify canonicalizes value and checks sig (base64) against it under
// pub.
func Verify(value any, sig string, pub ed25519.PublicKey) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, atpcerrors.Newf(atpcerrors.Identity, "InvalidKeyLength: public key length %d, want %d", len(pub), ed25519.PublicKeySize)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false, atpcerrors.Wrap(atpcerrors.Identity, "verify", err)
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return false, atpcerrors.Newf(atpcerrors.Identity, "InvalidSignature: length %d, want %d", len(sigBytes), ed25519.SignatureSize)
	}
	canon, err := Canonicalize(value)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, canon, sigBytes), nil
}

// rotationPayload is the canonicalized, jointly-signed body of a key
// rotation proof — every field of KeyRotationProof except the two
// signatures themselves.
type rotationPayload struct {
	OldDID       string `json:"oldDid"`
	NewDID       string `json:"newDid"`
	NewPublicKey string `json:"newPublicKey"`
	Timestamp    string `json:"timestamp"`
}

// RotateKey produces a KeyRotationProof handing control from old to
// newPublic, signed by both the old and new secret keys over the same
// rotation payload.
func RotateKey(old *AgentIdentity, newPublic ed25519.PublicKey, newSecret ed25519.PrivateKey) (*KeyRotationProof, error) {
	newDID := CreateDID(newPublic)
	payload := rotationPayload{
		OldDID:       old.DID,
		NewDID:       newDID,
		NewPublicKey: base64.StdEncoding.EncodeToString(newPublic),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}

	oldSig, err := Sign(payload, old.SecretKey)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Identity, "rotateKey.sign.old", err)
	}
	newSig, err := Sign(payload, newSecret)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Identity, "rotateKey.sign.new", err)
	}

	return &KeyRotationProof{
		OldDID:       payload.OldDID,
		NewDID:       payload.NewDID,
		NewPublicKey: payload.NewPublicKey,
		Timestamp:    payload.Timestamp,
		OldSignature: oldSig,
		NewSignature: newSig,
	}, nil
}

// VerifyKeyRotation requires both the old and new signatures in proof to
// validate under the public keys their respective DIDs encode.
func VerifyKeyRotation(proof *KeyRotationProof) (bool, error) {
	oldPub, err := ParseDID(proof.OldDID)
	if err != nil {
		return false, err
	}
	newPub, err := ParseDID(proof.NewDID)
	if err != nil {
		return false, err
	}

	payload := rotationPayload{
		OldDID:       proof.OldDID,
		NewDID:       proof.NewDID,
		NewPublicKey: proof.NewPublicKey,
		Timestamp:    proof.Timestamp,
	}

	oldOK, err := Verify(payload, proof.OldSignature, oldPub)
	if err != nil {
		return false, err
	}
	newOK, err := Verify(payload, proof.NewSignature, newPub)
	if err != nil {
		return false, err
	}
	return oldOK && newOK, nil
}
