// Copyright 2025 ATEL Network
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/atel-network/atpc/pkg/anchor"
	"github.com/atel-network/atpc/pkg/atpcconfig"
	"github.com/atel-network/atpc/pkg/atpclog"
	"github.com/atel-network/atpc/pkg/gateway"
	"github.com/atel-network/atpc/pkg/handshake"
	"github.com/atel-network/atpc/pkg/identity"
	"github.com/atel-network/atpc/pkg/orchestrator"
	"github.com/atel-network/atpc/pkg/session"
	"github.com/atel-network/atpc/pkg/trust"
)

// server holds every piece of protocol state a single deployed agent
// needs to answer its HTTP endpoint surface. It is the composition
// root cmd/atpcd builds once at startup and every handler closes over.
type server struct {
	cfg *atpcconfig.Config
	self *identity.AgentIdentity

	sessions    *session.Store
	handshakes  *handshake.Manager
	registry    *gateway.Registry
	scores      *trust.ScoreStore
	graph       *trust.Graph
	anchors     *anchor.Coordinator
	limiter     *perDIDLimiter

	mu        sync.Mutex
	proofsByTaskID map[string]proofRecord

	logger *atpclog.Logger
}

type proofRecord struct {
	task orchestrator.TaskIntent
}

func newServer(cfg *atpcconfig.Config, self *identity.AgentIdentity) *server {
	sessions := session.NewStore()
	registry := gateway.NewRegistry()
	registerDemoTools(registry)

	scores := trust.NewScoreStore()

	return &server{
		cfg:            cfg,
		self:           self,
		sessions:       sessions,
		handshakes:     handshake.NewManager(self, sessions),
		registry:       registry,
		scores:         scores,
		graph:          trust.NewGraph(scores),
		anchors:        anchor.NewCoordinator(),
		limiter:        newPerDIDLimiter(cfg.RateLimitPerMinute),
		proofsByTaskID: make(map[string]proofRecord),
		logger:         atpclog.New("atpcd"),
	}
}

// registerDemoTools wires the handful of side-effect-free tools this
// reference binding ships so /task has something real to invoke. A
// production deployment registers its own domain tools here instead;
// the executor that would normally drive an LLM/agent session is out
// of scope.
func registerDemoTools(registry *gateway.Registry) {
	_ = registry.Register("demo.echo", func(ctx context.Context, input any) (any, error) {
		return input, nil
	})
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a {"error": message} JSON body with status.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func callerDID(r *http.Request) string {
	did := r.Header.Get("X-Agent-DID")
	if did == "" {
		return "anonymous"
	}
	return did
}

// withRateLimitAndSizeCeiling wraps handler with the per-DID token
// bucket and the maximum request body ceiling.
func (s *server) withRateLimitAndSizeCeiling(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(callerDID(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxPayloadBytes)
		handler(w, r)
	}
}
