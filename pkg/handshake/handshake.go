// Copyright 2025 ATEL Network
//
// Package handshake implements C4: the three-message mutual
// challenge-response state machine (INIT/ACK/CONFIRM) that two agents
// run to authenticate each other and agree on a session key.
package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atel-network/atpc/pkg/atpcerrors"
	"github.com/atel-network/atpc/pkg/atpclog"
	"github.com/atel-network/atpc/pkg/envelope"
	"github.com/atel-network/atpc/pkg/identity"
	"github.com/atel-network/atpc/pkg/session"
)

const (
	TypeInit    = "HANDSHAKE_INIT"
	TypeAck     = "HANDSHAKE_ACK"
	TypeConfirm = "HANDSHAKE_CONFIRM"

	// ChallengeBytes is the minimum byte length of a fresh challenge
	// before base64 encoding.
	ChallengeBytes = 32

	// DefaultSessionTTL is the lifetime assigned to sessions created
	// from a completed handshake.
	DefaultSessionTTL = 3600 * time.Second
)

// WalletBundle is the optional advisory wallet exchange attached to an
// INIT or ACK message.
type WalletBundle struct {
	Addresses []string `json:"addresses"`
	Timestamp string   `json:"timestamp"`
	Proof     string   `json:"proof"`
}

type walletProofPayload struct {
	Addresses []string `json:"addresses"`
	Timestamp string   `json:"timestamp"`
	DID       string   `json:"did"`
}

// SignWalletBundle produces a WalletBundle for owner, signed over the
// canonicalized {addresses, timestamp, did}.
func SignWalletBundle(owner *identity.AgentIdentity, addresses []string) (*WalletBundle, error) {
	ts := time.Now().UTC().Format(time.RFC3339)
	payload := walletProofPayload{Addresses: addresses, Timestamp: ts, DID: owner.DID}
	proof, err := identity.Sign(payload, owner.SecretKey)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Handshake, "signWalletBundle", err)
	}
	return &WalletBundle{Addresses: addresses, Timestamp: ts, Proof: proof}, nil
}

// verifyWalletBundle checks a wallet bundle's proof under the owning DID.
func verifyWalletBundle(did string, bundle *WalletBundle) (bool, error) {
	if bundle == nil {
		return false, nil
	}
	pub, err := identity.ParseDID(did)
	if err != nil {
		return false, err
	}
	payload := walletProofPayload{Addresses: bundle.Addresses, Timestamp: bundle.Timestamp, DID: did}
	return identity.Verify(payload, bundle.Proof, pub)
}

// InitPayload is the payload of a HANDSHAKE_INIT message.
type InitPayload struct {
	DID       string        `json:"didA"`
	Pub       string        `json:"pubA"`
	EncPub    string        `json:"encPubA"`
	Challenge string        `json:"challengeA"`
	Wallets   *WalletBundle `json:"wallets,omitempty"`
}

// AckPayload is the payload of a HANDSHAKE_ACK message.
type AckPayload struct {
	DID             string        `json:"didB"`
	Pub             string        `json:"pubB"`
	EncPub          string        `json:"encPubB"`
	Challenge       string        `json:"challengeB"`
	SignedChallenge string        `json:"signChallengeA"`
	Wallets         *WalletBundle `json:"wallets,omitempty"`
}

// ConfirmPayload is the payload of a HANDSHAKE_CONFIRM message.
type ConfirmPayload struct {
	SignedChallenge string `json:"signChallengeB"`
}

// Outcome summarizes a successfully completed handshake.
type Outcome struct {
	Session               *session.Session
	RemoteCapabilities    []string
	RemoteWallets         *WalletBundle
	RemoteWalletsVerified bool
}

type pendingChallenge struct {
	challenge       string
	consumed        bool
	localEncPublic  [32]byte
	localEncSecret  [32]byte
	remoteEncPub    [32]byte
	hasRemoteEncPub bool
}

// Manager drives both sides of the handshake state machine for a single
// local identity, tracking issued and pending challenges per remote DID.
type Manager struct {
	mu       sync.Mutex
	self     *identity.AgentIdentity
	sessions *session.Store
	pending  map[string]*pendingChallenge
	logger   *atpclog.Logger
}

// NewManager constructs a handshake Manager for a local identity, backed
// by the given session store.
func NewManager(self *identity.AgentIdentity, sessions *session.Store) *Manager {
	return &Manager{
		self:     self,
		sessions: sessions,
		pending:  make(map[string]*pendingChallenge),
		logger:   atpclog.New("Handshake"),
	}
}

func freshChallenge() (string, error) {
	buf := make([]byte, ChallengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", atpcerrors.Wrap(atpcerrors.Handshake, "freshChallenge", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// StartInit generates a fresh ephemeral X25519 pair and challenge for
// remoteDID, and builds and signs the HANDSHAKE_INIT envelope to send.
func (m *Manager) StartInit(remoteDID string, wallets *WalletBundle) (*envelope.Envelope, error) {
	challenge, err := freshChallenge()
	if err != nil {
		return nil, err
	}
	encPub, encSecret, err := session.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.pending[remoteDID] = &pendingChallenge{
		challenge:      challenge,
		localEncPublic: encPub,
		localEncSecret: encSecret,
	}
	m.mu.Unlock()

	payload := InitPayload{
		DID:       m.self.DID,
		Pub:       base64.StdEncoding.EncodeToString(m.self.PublicKey),
		EncPub:    base64.StdEncoding.EncodeToString(encPub[:]),
		Challenge: challenge,
		Wallets:   wallets,
	}
	return envelope.New(TypeInit, m.self.DID, remoteDID, payload, *m.self)
}

// verifyEnvelopeAndDID checks the envelope signature against the
// declared DID's public key and that declared pub matches parseDID(did).
func verifyEnvelopeAndDID(msg *envelope.Envelope, did, encodedPub string) (ed25519.PublicKey, error) {
	didPub, err := identity.ParseDID(did)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Handshake, "verifyEnvelopeAndDID.parseDID", err)
	}

	declaredPub, err := base64.StdEncoding.DecodeString(encodedPub)
	if err != nil || len(declaredPub) != ed25519.PublicKeySize {
		return nil, atpcerrors.New(atpcerrors.Handshake, "declared public key malformed")
	}
	if !didPub.Equal(ed25519.PublicKey(declaredPub)) {
		return nil, atpcerrors.New(atpcerrors.Handshake, "declared public key does not match DID")
	}

	ok, err := envelope.VerifyMessage(msg, didPub, envelope.VerifyOptions{})
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Handshake, "verifyEnvelopeAndDID.signature", err)
	}
	if !ok {
		return nil, atpcerrors.New(atpcerrors.Handshake, "envelope signature mismatch")
	}
	return didPub, nil
}

func decodeEncPub(encoded string) ([32]byte, bool) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != 32 {
		return out, false
	}
	copy(out[:], raw)
	return out, true
}

// HandleInit processes an inbound HANDSHAKE_INIT, returning a signed
// HANDSHAKE_ACK envelope. B's side of the exchange.
func (m *Manager) HandleInit(msg *envelope.Envelope, init InitPayload) (*envelope.Envelope, error) {
	if _, err := verifyEnvelopeAndDID(msg, init.DID, init.Pub); err != nil {
		return nil, err
	}

	remotePub, ok := decodeEncPub(init.EncPub)
	if !ok {
		return nil, atpcerrors.New(atpcerrors.Handshake, "invalid encPubA")
	}

	signedChallengeA, err := identity.Sign(init.Challenge, m.self.SecretKey)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Handshake, "handleInit.sign", err)
	}

	challengeB, err := freshChallenge()
	if err != nil {
		return nil, err
	}
	localEncPub, localEncSecret, err := session.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.pending[init.DID] = &pendingChallenge{
		challenge:       challengeB,
		localEncPublic:  localEncPub,
		localEncSecret:  localEncSecret,
		remoteEncPub:    remotePub,
		hasRemoteEncPub: true,
	}
	m.mu.Unlock()

	ack := AckPayload{
		DID:             m.self.DID,
		Pub:             base64.StdEncoding.EncodeToString(m.self.PublicKey),
		EncPub:          base64.StdEncoding.EncodeToString(localEncPub[:]),
		Challenge:       challengeB,
		SignedChallenge: signedChallengeA,
	}
	return envelope.New(TypeAck, m.self.DID, init.DID, ack, *m.self)
}

// HandleAck processes an inbound HANDSHAKE_ACK as A: verifies B's
// signature over the challenge A issued, returns the CONFIRM envelope
// to send plus the resulting session now that both encryption keys are
// known.
func (m *Manager) HandleAck(msg *envelope.Envelope, ack AckPayload) (*envelope.Envelope, *Outcome, error) {
	didPub, err := verifyEnvelopeAndDID(msg, ack.DID, ack.Pub)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	pc, exists := m.pending[ack.DID]
	m.mu.Unlock()
	if !exists || pc.consumed {
		return nil, nil, atpcerrors.New(atpcerrors.Handshake, "unknown pending challenge")
	}

	ok, err := identity.Verify(pc.challenge, ack.SignedChallenge, didPub)
	if err != nil {
		return nil, nil, atpcerrors.Wrap(atpcerrors.Handshake, "handleAck.verifyChallenge", err)
	}
	if !ok {
		return nil, nil, atpcerrors.New(atpcerrors.Handshake, "challenge signature mismatch")
	}

	m.mu.Lock()
	pc.consumed = true
	m.mu.Unlock()

	remoteEncPub, ok := decodeEncPub(ack.EncPub)
	if !ok {
		return nil, nil, atpcerrors.New(atpcerrors.Handshake, "invalid encPubB")
	}

	signedChallengeB, err := identity.Sign(ack.Challenge, m.self.SecretKey)
	if err != nil {
		return nil, nil, atpcerrors.Wrap(atpcerrors.Handshake, "handleAck.sign", err)
	}

	sess, err := session.New(uuid.NewString(), m.self.DID, ack.DID, pc.localEncPublic, pc.localEncSecret, remoteEncPub, DefaultSessionTTL)
	if err != nil {
		return nil, nil, err
	}
	m.sessions.Put(sess)

	confirm := ConfirmPayload{SignedChallenge: signedChallengeB}
	confirmEnv, err := envelope.New(TypeConfirm, m.self.DID, ack.DID, confirm, *m.self)
	if err != nil {
		return nil, nil, err
	}

	outcome := &Outcome{Session: sess}
	if ack.Wallets != nil {
		verified, err := verifyWalletBundle(ack.DID, ack.Wallets)
		if err == nil {
			outcome.RemoteWallets = ack.Wallets
			outcome.RemoteWalletsVerified = verified
		}
	}
	return confirmEnv, outcome, nil
}

// HandleConfirm processes an inbound HANDSHAKE_CONFIRM as B: verifies
// A's signature over challengeB, consuming it so a replayed CONFIRM is
// rejected, and instantiates the session.
func (m *Manager) HandleConfirm(msg *envelope.Envelope, fromDID string, confirm ConfirmPayload, initWallets *WalletBundle) (*Outcome, error) {
	remotePub, err := identity.ParseDID(fromDID)
	if err != nil {
		return nil, err
	}
	ok, err := envelope.VerifyMessage(msg, remotePub, envelope.VerifyOptions{})
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Handshake, "handleConfirm.signature", err)
	}
	if !ok {
		return nil, atpcerrors.New(atpcerrors.Handshake, "envelope signature mismatch")
	}

	m.mu.Lock()
	pc, exists := m.pending[fromDID]
	m.mu.Unlock()
	if !exists || pc.consumed {
		return nil, atpcerrors.New(atpcerrors.Handshake, "unknown or replayed pending challenge")
	}

	valid, err := identity.Verify(pc.challenge, confirm.SignedChallenge, remotePub)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Handshake, "handleConfirm.verifyChallenge", err)
	}
	if !valid {
		return nil, atpcerrors.New(atpcerrors.Handshake, "challenge signature mismatch")
	}

	m.mu.Lock()
	pc.consumed = true
	m.mu.Unlock()

	if !pc.hasRemoteEncPub {
		return nil, atpcerrors.New(atpcerrors.Handshake, "missing remote encryption public key")
	}

	sess, err := session.New(uuid.NewString(), m.self.DID, fromDID, pc.localEncPublic, pc.localEncSecret, pc.remoteEncPub, DefaultSessionTTL)
	if err != nil {
		return nil, err
	}
	m.sessions.Put(sess)

	outcome := &Outcome{Session: sess}
	if initWallets != nil {
		verified, err := verifyWalletBundle(fromDID, initWallets)
		if err == nil {
			outcome.RemoteWallets = initWallets
			outcome.RemoteWalletsVerified = verified
		}
	}
	m.logger.Infof("handshake with %s confirmed", fromDID)
	return outcome, nil
}
