// Copyright 2025 ATEL Network
//
// Package gateway implements C6: the tool gateway, the sole mediated
// egress point between an agent and the outside world. Every call is
// policy-checked, hashed for the trace, and dispatched to a registered
// handler whose own errors are captured rather than propagated.
package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/atel-network/atpc/pkg/atpcerrors"
)

// Handler executes one tool call. Handler errors are captured by the
// gateway as a failed CallResult rather than returned to the caller.
type Handler func(ctx context.Context, input any) (any, error)

// Registry holds tool handlers keyed by "category.method".
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// toolKey splits a "category.method" tool identifier into its parts,
// at the first dot. A tool string with no dot at all is valid and
// defaults method to "*"; a dot with an empty category or method on
// either side of it is rejected.
func toolKey(tool string) (category, method string, err error) {
	if tool == "" {
		return "", "", atpcerrors.Newf(atpcerrors.Gateway, "InvalidTool: %q must be category.method", tool)
	}
	idx := strings.IndexByte(tool, '.')
	if idx < 0 {
		return tool, "*", nil
	}
	if idx == 0 || idx == len(tool)-1 {
		return "", "", atpcerrors.Newf(atpcerrors.Gateway, "InvalidTool: %q must be category.method", tool)
	}
	return tool[:idx], tool[idx+1:], nil
}

// Register adds handler under tool ("category.method"). Registering
// the same tool twice is rejected.
func (r *Registry) Register(tool string, handler Handler) error {
	if _, _, err := toolKey(tool); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[tool]; exists {
		return atpcerrors.Newf(atpcerrors.Gateway, "DuplicateTool: %q is already registered", tool)
	}
	r.handlers[tool] = handler
	return nil
}

// Lookup returns the handler registered for tool, or ToolNotFound.
func (r *Registry) Lookup(tool string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[tool]
	if !ok {
		return nil, atpcerrors.Newf(atpcerrors.Gateway, "ToolNotFound: %q is not registered", tool)
	}
	return handler, nil
}
