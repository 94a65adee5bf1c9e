// Package provider abstracts over interchangeable text-generation backends.
//
// Each backend implements the Provider interface and is selected at
// configuration time by identifier string. The Gateway drives providers
// with per-attempt timeouts, classifies failures as transient or terminal,
// and retries transient ones with exponential backoff. Neither the gateway
// nor the providers interpret the returned text.
package provider

import (
	"context"
	"sort"
	"sync"
)

// Request is a uniform generation request. Providers that do not support a
// parameter ignore it.
type Request struct {
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Provider is one text-generation backend.
type Provider interface {
	// Name returns the provider identifier used in configuration.
	Name() string

	// Generate performs a single generation attempt. Retries belong to the
	// Gateway, not the provider. Errors must be classified with
	// TransientError or UnavailableError so the Gateway can decide
	// retry eligibility.
	Generate(ctx context.Context, req Request) (string, error)

	// Validate performs a cheap credential/reachability check without
	// issuing a generation call. It must never include the credential
	// value in the returned error.
	Validate(ctx context.Context) error
}

// Registry maps provider identifiers to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its own name. Re-registering a name
// replaces the previous provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Has reports whether id names a registered provider. Satisfies
// config.ProviderSet for eager configuration validation.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[id]
	return ok
}

// Names returns the registered identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
