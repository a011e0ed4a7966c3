// Package capability maps (agent, action type) pairs to the concrete
// side-effecting implementations that mutate external systems.
package capability

import (
	"context"
	"encoding/json"
	"sync"
)

// Capability is a single executable action implementation. Implementations
// live outside the scheduling core (Shopify Admin API calls, email
// campaign sends, etc.) and are responsible for classifying their own
// failures as retryable or terminal via executor.ExecutionError.
type Capability interface {
	// Execute performs the side effect described by actionData and
	// returns an opaque result payload. The context carries the
	// per-call execution timeout.
	Execute(ctx context.Context, actionData json.RawMessage) (json.RawMessage, error)
}

// Func adapts a plain function to the Capability interface.
type Func func(ctx context.Context, actionData json.RawMessage) (json.RawMessage, error)

func (f Func) Execute(ctx context.Context, actionData json.RawMessage) (json.RawMessage, error) {
	return f(ctx, actionData)
}

// Registry resolves a capability for an (agentID, actionType) pair.
type Registry interface {
	Lookup(agentID, actionType string) (Capability, bool)
}

// StaticRegistry is a concurrency-safe in-memory Registry populated at
// startup by the embedding application.
type StaticRegistry struct {
	mu           sync.RWMutex
	capabilities map[registryKey]Capability
}

type registryKey struct {
	agentID    string
	actionType string
}

// NewStaticRegistry returns an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{capabilities: make(map[registryKey]Capability)}
}

// Register binds a capability to an (agentID, actionType) pair,
// replacing any previous binding.
func (r *StaticRegistry) Register(agentID, actionType string, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[registryKey{agentID, actionType}] = c
}

// Lookup returns the capability bound to the pair, if any.
func (r *StaticRegistry) Lookup(agentID, actionType string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[registryKey{agentID, actionType}]
	return c, ok
}
