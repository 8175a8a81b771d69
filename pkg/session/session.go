// Copyright 2025 ATEL Network
//
// Package session implements C3: ephemeral X25519 key agreement and
// NaCl secretbox authenticated encryption for live agent-to-agent
// channels, plus the store that indexes live sessions by remote DID.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/atel-network/atpc/pkg/atpcerrors"
	"github.com/atel-network/atpc/pkg/atpclog"
)

// SharedKeyDomain is the mandatory domain-separation prefix mixed into
// every derived shared secret.
const SharedKeyDomain = "atel-session-key-v1"

// DefaultTTL is the default lifetime of a Session after creation.
const DefaultTTL = time.Hour

// EncryptedPayload is the wire form of a secretbox-encrypted message.
type EncryptedPayload struct {
	Enc             string `json:"enc"`
	Ciphertext      string `json:"ciphertext"`
	Nonce           string `json:"nonce"`
	EphemeralPubKey string `json:"ephemeralPubKey,omitempty"`
}

const encTag = "atel.enc.v1"

// GenerateKeyPair produces a fresh X25519 key pair, distinct from (and
// never reused for) Ed25519 identity keys.
func GenerateKeyPair() (public, secret [32]byte, err error) {
	if _, err = rand.Read(secret[:]); err != nil {
		return public, secret, atpcerrors.Wrap(atpcerrors.Handshake, "session.generateKeyPair", err)
	}
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return public, secret, atpcerrors.Wrap(atpcerrors.Handshake, "session.generateKeyPair", err)
	}
	copy(public[:], pub)
	return public, secret, nil
}

// DeriveSharedKey computes shared = SHA256(domain || X25519(localSecret, remotePublic)).
func DeriveSharedKey(localSecret, remotePublic [32]byte) ([32]byte, error) {
	raw, err := curve25519.X25519(localSecret[:], remotePublic[:])
	if err != nil {
		return [32]byte{}, atpcerrors.Wrap(atpcerrors.Handshake, "session.deriveSharedKey", err)
	}
	h := sha256.New()
	h.Write([]byte(SharedKeyDomain))
	h.Write(raw)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Encrypt seals plaintext under key with a fresh random 24-byte nonce,
// using the NaCl secretbox (XSalsa20-Poly1305) construction.
func Encrypt(key [32]byte, plaintext []byte) (*EncryptedPayload, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Handshake, "session.encrypt", err)
	}
	sealed := secretbox.Seal(nil, plaintext, &nonce, &key)
	return &EncryptedPayload{
		Enc:        encTag,
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		Nonce:      base64.StdEncoding.EncodeToString(nonce[:]),
	}, nil
}

// Decrypt opens an EncryptedPayload under key. It fails explicitly on a
// wrong key or tampered ciphertext rather than returning garbage.
func Decrypt(key [32]byte, payload *EncryptedPayload) ([]byte, error) {
	if payload.Enc != encTag {
		return nil, atpcerrors.Newf(atpcerrors.Handshake, "unexpected enc tag %q", payload.Enc)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return nil, atpcerrors.New(atpcerrors.Handshake, "invalid nonce")
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)

	ciphertext, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Handshake, "session.decrypt", err)
	}

	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		return nil, atpcerrors.New(atpcerrors.Handshake, "decryption failed: wrong key or tampered ciphertext")
	}
	return plaintext, nil
}

// Session is live bidirectional channel state between two agents.
type Session struct {
	SessionID           string
	LocalDID            string
	RemoteDID           string
	RemotePublicKey     []byte
	Encrypted           bool
	localSecret         [32]byte
	localPublic         [32]byte
	sharedKey           [32]byte
	CreatedAt           time.Time
	ExpiresAt           time.Time
	RemoteCapabilities  []string
	RemoteWallets       map[string]any
	rotationCount       int
	destroyed           bool
}

// SharedKey returns the session's current symmetric key.
func (s *Session) SharedKey() [32]byte { return s.sharedKey }

// LocalPublicKey returns the session's current local X25519 public key.
func (s *Session) LocalPublicKey() [32]byte { return s.localPublic }

// RotationCount returns how many times Rotate has been called.
func (s *Session) RotationCount() int { return s.rotationCount }

// Expired reports whether the session has passed its ExpiresAt.
func (s *Session) Expired() bool { return time.Now().After(s.ExpiresAt) }

// Rotate generates a fresh local X25519 pair, re-derives the shared
// secret against newRemotePublicKey, zeroes the previous key material,
// and increments the rotation counter.
func (s *Session) Rotate(newRemotePublicKey [32]byte) error {
	newPublic, newSecret, err := GenerateKeyPair()
	if err != nil {
		return err
	}
	sharedKey, err := DeriveSharedKey(newSecret, newRemotePublicKey)
	if err != nil {
		return err
	}

	zero(s.localSecret[:])
	zero(s.sharedKey[:])

	s.localPublic = newPublic
	s.localSecret = newSecret
	s.sharedKey = sharedKey
	s.RemotePublicKey = append([]byte(nil), newRemotePublicKey[:]...)
	s.rotationCount++
	return nil
}

// Destroy explicitly zeroes all key material held by the session.
func (s *Session) Destroy() {
	if s.destroyed {
		return
	}
	zero(s.localSecret[:])
	zero(s.sharedKey[:])
	zero(s.localPublic[:])
	s.destroyed = true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Store indexes live sessions by remote DID.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *atpclog.Logger
}

// NewStore constructs an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		logger:   atpclog.New("Session"),
	}
}

// Create builds and stores a new encrypted session between local and
// remote, indexed by the remote DID.
func (st *Store) Create(sessionID, localDID, remoteDID string, remotePublicKey [32]byte, ttl time.Duration) (*Session, error) {
	localPublic, localSecret, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	sess, err := New(sessionID, localDID, remoteDID, localPublic, localSecret, remotePublicKey, ttl)
	if err != nil {
		return nil, err
	}
	st.Put(sess)
	return sess, nil
}

// New constructs a Session from an explicit local X25519 key pair,
// deriving the shared key against remotePublicKey. Used by the
// handshake manager, which must reuse the same ephemeral pair it
// advertised in HANDSHAKE_INIT/ACK rather than generate a new one.
func New(sessionID, localDID, remoteDID string, localPublic, localSecret, remotePublicKey [32]byte, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sharedKey, err := DeriveSharedKey(localSecret, remotePublicKey)
	if err != nil {
		return nil, err
	}

	return &Session{
		SessionID:       sessionID,
		LocalDID:        localDID,
		RemoteDID:       remoteDID,
		RemotePublicKey: append([]byte(nil), remotePublicKey[:]...),
		Encrypted:       true,
		localSecret:     localSecret,
		localPublic:     localPublic,
		sharedKey:       sharedKey,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(ttl),
	}, nil
}

// Put stores sess in the store, indexed by its RemoteDID.
func (st *Store) Put(sess *Session) {
	st.mu.Lock()
	st.sessions[sess.RemoteDID] = sess
	st.mu.Unlock()
	st.logger.Infof("created session %s with %s", sess.SessionID, sess.RemoteDID)
}

// Get returns the live session for a remote DID, if any and unexpired.
func (st *Store) Get(remoteDID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[remoteDID]
	if !ok {
		return nil, false
	}
	if sess.Expired() {
		return nil, false
	}
	return sess, true
}

// Destroy zeroes and evicts the session associated with a remote DID.
func (st *Store) Destroy(remoteDID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if sess, ok := st.sessions[remoteDID]; ok {
		sess.Destroy()
		delete(st.sessions, remoteDID)
		st.logger.Infof("destroyed session with %s", remoteDID)
	}
}

// EvictExpired removes all expired sessions, zeroing their key material.
func (st *Store) EvictExpired() {
	st.mu.Lock()
	defer st.mu.Unlock()

	for did, sess := range st.sessions {
		if sess.Expired() {
			sess.Destroy()
			delete(st.sessions, did)
		}
	}
}
