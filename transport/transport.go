// Package transport defines the common Adapter interface every provider
// protocol (HTTP/SSE, gRPC, stdio-subprocess) implements, and a
// protocol-tagged Registry for resolving an AdapterResource to a live
// Adapter.
package transport

import (
	"context"
	"fmt"
	"sync"

	gatekeep "github.com/jonwraymond/gatekeep"
)

// Capability describes one invocable operation a provider exposes.
type Capability struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// HealthStatus is the result of an adapter health probe.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Chunk is one piece of a streamed invocation response.
type Chunk struct {
	Data  []byte
	Err   error
	Final bool
}

// Adapter is the common interface every transport protocol implements.
//
// Contract:
// - Concurrency: all methods must be safe for concurrent use.
// - Context: all methods honor ctx cancellation/deadline.
type Adapter interface {
	Discover(ctx context.Context) error
	ListCapabilities(ctx context.Context) ([]Capability, error)
	Invoke(ctx context.Context, capability string, parameters map[string]any) ([]byte, error)
	InvokeStream(ctx context.Context, capability string, parameters map[string]any) (<-chan Chunk, error)
	Health(ctx context.Context) HealthStatus
	Close(ctx context.Context) error
}

// Factory builds an Adapter for a given AdapterResource. One Factory is
// registered per protocol ("http", "grpc", "stdio").
type Factory func(resource gatekeep.AdapterResource) (Adapter, error)

// Registry maps a protocol-tagged AdapterResource to a live Adapter,
// constructing and caching one Adapter per resource ID the same way
// auth.Registry caches authenticator/authorizer factories by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	live      map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		live:      make(map[string]Adapter),
	}
}

// RegisterFactory adds a Factory for the given protocol.
func (r *Registry) RegisterFactory(protocol string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[protocol] = factory
}

// Resolve returns the live Adapter for resource, constructing and
// discovering it on first use.
func (r *Registry) Resolve(ctx context.Context, resource gatekeep.AdapterResource) (Adapter, error) {
	r.mu.RLock()
	adapter, ok := r.live[resource.ID]
	r.mu.RUnlock()
	if ok {
		return adapter, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check after acquiring the write lock in case another caller won
	// the race while we were waiting.
	if adapter, ok := r.live[resource.ID]; ok {
		return adapter, nil
	}

	factory, ok := r.factories[resource.Protocol]
	if !ok {
		return nil, gatekeep.NewError(gatekeep.ErrKindAdapterUnavailable, fmt.Sprintf("no adapter factory registered for protocol %q", resource.Protocol), nil)
	}

	adapter, err := factory(resource)
	if err != nil {
		return nil, gatekeep.NewError(gatekeep.ErrKindAdapterUnavailable, "construct adapter", err)
	}

	if err := adapter.Discover(ctx); err != nil {
		return nil, gatekeep.NewError(gatekeep.ErrKindAdapterUnavailable, "discovery_failed", err)
	}

	r.live[resource.ID] = adapter
	return adapter, nil
}

// Close shuts down every live adapter, collecting the first error.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, adapter := range r.live {
		if err := adapter.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("transport: close adapter %s: %w", id, err)
		}
	}
	r.live = make(map[string]Adapter)
	return firstErr
}
