// Copyright 2025 ATEL Network
//
// Package consent implements C5: signed, scoped, capability-bounded
// consent tokens and the policy engine that enforces them at the tool
// invocation boundary.
package consent

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atel-network/atpc/pkg/atpcerrors"
	"github.com/atel-network/atpc/pkg/identity"
)

// RiskLevel is one of the four ordered risk tiers a consent token or a
// proposed action may carry.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Constraints bounds how many calls a token authorizes and for how long.
type Constraints struct {
	MaxCalls int   `json:"maxCalls"`
	TTLSec   int64 `json:"ttlSec"`
}

// ConsentToken is a single-use authorization with quota, minted by an
// issuer DID for a subject DID.
type ConsentToken struct {
	Iss         string      `json:"iss"`
	Sub         string      `json:"sub"`
	Scopes      []string    `json:"scopes"`
	Constraints Constraints `json:"constraints"`
	RiskCeiling RiskLevel   `json:"riskCeiling"`
	Iat         int64       `json:"iat"`
	Exp         int64       `json:"exp"`
	Nonce       string      `json:"nonce"`
	Sig         string      `json:"sig,omitempty"`
}

func withoutSig(token ConsentToken) ConsentToken {
	token.Sig = ""
	return token
}

// Mint builds and signs a ConsentToken from iss to sub, granting scopes
// bounded by constraints and riskCeiling, signed by iss's secret key.
func Mint(iss, sub string, scopes []string, constraints Constraints, riskCeiling RiskLevel, secret identity.AgentIdentity) (*ConsentToken, error) {
	if len(scopes) == 0 {
		return nil, atpcerrors.New(atpcerrors.Consent, "scopes must be non-empty")
	}
	if constraints.MaxCalls < 1 {
		return nil, atpcerrors.New(atpcerrors.Consent, "maxCalls must be >= 1")
	}

	iat := time.Now().Unix()
	token := ConsentToken{
		Iss:         iss,
		Sub:         sub,
		Scopes:      scopes,
		Constraints: constraints,
		RiskCeiling: riskCeiling,
		Iat:         iat,
		Exp:         iat + constraints.TTLSec,
		Nonce:       uuid.NewString(),
	}

	sig, err := identity.Sign(withoutSig(token), secret.SecretKey)
	if err != nil {
		return nil, atpcerrors.Wrap(atpcerrors.Consent, "mint.sign", err)
	}
	token.Sig = sig
	return &token, nil
}

// Verify checks token's signature under issuerPublicKey and that it has
// not expired. It raises InvalidConsent (via atpcerrors.Consent) on
// either failure.
func Verify(token *ConsentToken, issuerPublicKey []byte) error {
	ok, err := identity.Verify(withoutSig(*token), token.Sig, issuerPublicKey)
	if err != nil {
		return atpcerrors.Wrap(atpcerrors.Consent, "verify.signature", err)
	}
	if !ok {
		return atpcerrors.New(atpcerrors.Consent, "InvalidConsent: signature mismatch")
	}
	if time.Now().Unix() >= token.Exp {
		return atpcerrors.New(atpcerrors.Consent, "InvalidConsent: token expired")
	}
	return nil
}

// ScopeGranted reports whether granted scope s authorizes requested
// scope r: s equals r, or r starts with s followed by a colon.
func ScopeGranted(s, r string) bool {
	if s == r {
		return true
	}
	return strings.HasPrefix(r, s+":")
}

// AnyScopeGranted reports whether any scope in granted authorizes r.
func AnyScopeGranted(granted []string, r string) bool {
	for _, s := range granted {
		if ScopeGranted(s, r) {
			return true
		}
	}
	return false
}

// ProposedAction is the object the policy engine is asked about.
type ProposedAction struct {
	Tool      string
	Method    string
	DataScope string
}

// Decision is the outcome of a policy evaluation.
type Decision string

const (
	DecisionAllow        Decision = "allow"
	DecisionNeedsConfirm Decision = "needs_confirm"
	DecisionDeny         Decision = "deny"
)

// Engine evaluates proposed actions against a single consent token and
// tracks its remaining call quota.
type Engine struct {
	mu             sync.Mutex
	token          *ConsentToken
	remainingCalls int
}

// NewEngine binds a policy engine to token, seeding the call counter
// from its MaxCalls constraint.
func NewEngine(token *ConsentToken) *Engine {
	return &Engine{token: token, remainingCalls: token.Constraints.MaxCalls}
}

// defaultDataScope is the effective data scope for a proposed action
// that didn't specify one explicitly: the first token scope beginning
// with "data:", prefix stripped, or "*" if the token grants no data
// scope at all.
func defaultDataScope(scopes []string) string {
	for _, s := range scopes {
		if rest, ok := strings.CutPrefix(s, "data:"); ok {
			return rest
		}
	}
	return "*"
}

// Evaluate compares a proposed action and requested risk level against
// the bound token's grants and risk ceiling.
func (e *Engine) Evaluate(action ProposedAction, requestedRisk RiskLevel) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	toolScope := "tool:" + action.Tool + ":" + action.Method
	scopesSatisfied := AnyScopeGranted(e.token.Scopes, toolScope)

	dataScope := action.DataScope
	if dataScope == "" {
		dataScope = defaultDataScope(e.token.Scopes)
	}
	scopesSatisfied = scopesSatisfied && AnyScopeGranted(e.token.Scopes, "data:"+dataScope)

	expired := time.Now().Unix() >= e.token.Exp
	callsRemain := e.remainingCalls > 0

	reqLevel, reqKnown := riskOrder[requestedRisk]
	ceilingLevel, ceilingKnown := riskOrder[e.token.RiskCeiling]
	if !reqKnown || !ceilingKnown {
		return DecisionDeny
	}
	diff := reqLevel - ceilingLevel

	switch {
	case scopesSatisfied && diff <= 0 && callsRemain && !expired:
		return DecisionAllow
	case scopesSatisfied && diff == 1 && callsRemain && !expired:
		return DecisionNeedsConfirm
	default:
		return DecisionDeny
	}
}

// RecordCall decrements the remaining-call counter. It refuses to go
// below zero, returning a PolicyError.
func (e *Engine) RecordCall() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.remainingCalls <= 0 {
		return atpcerrors.New(atpcerrors.Policy, "call quota exhausted")
	}
	e.remainingCalls--
	return nil
}

// GetRemainingCalls exposes the current call counter.
func (e *Engine) GetRemainingCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remainingCalls
}
