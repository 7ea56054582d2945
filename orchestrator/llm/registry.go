// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry is a model-name keyed lookup table of provider adapters.
// It is built once at startup and injected into the engine; the table
// itself is immutable after construction, so lookups take no lock.
// Health results are the only mutable state.
type Registry struct {
	providers map[string]Provider

	healthMu      sync.RWMutex
	healthResults map[string]*HealthResult
}

// HealthResult records the outcome of the most recent health check.
type HealthResult struct {
	Healthy     bool          `json:"healthy"`
	Latency     time.Duration `json:"latency"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
}

// RegistryError represents a registry construction or lookup failure.
type RegistryError struct {
	Model   string
	Code    string
	Message string
}

// Registry error codes.
const (
	// ErrRegistryNotFound indicates no adapter serves the model.
	ErrRegistryNotFound = "registry_not_found"

	// ErrRegistryDuplicate indicates two adapters claim the same model.
	ErrRegistryDuplicate = "registry_duplicate"

	// ErrRegistryInvalid indicates an invalid adapter.
	ErrRegistryInvalid = "registry_invalid"
)

// Error implements the error interface.
func (e *RegistryError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("registry error for %q: %s", e.Model, e.Message)
	}
	return fmt.Sprintf("registry error: %s", e.Message)
}

// NewRegistry builds a registry from the given adapters, keyed by each
// adapter's model identifier. Duplicate models are an error.
func NewRegistry(providers ...Provider) (*Registry, error) {
	table := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, &RegistryError{Code: ErrRegistryInvalid, Message: "provider cannot be nil"}
		}
		model := p.Model()
		if model == "" {
			return nil, &RegistryError{Code: ErrRegistryInvalid, Message: fmt.Sprintf("provider %q has no model", p.Name())}
		}
		if _, exists := table[model]; exists {
			return nil, &RegistryError{
				Model:   model,
				Code:    ErrRegistryDuplicate,
				Message: fmt.Sprintf("model %q already registered", model),
			}
		}
		table[model] = p
	}

	return &Registry{
		providers:     table,
		healthResults: make(map[string]*HealthResult),
	}, nil
}

// Get returns the adapter serving the given model.
func (r *Registry) Get(model string) (Provider, error) {
	p, exists := r.providers[model]
	if !exists {
		return nil, &RegistryError{
			Model:   model,
			Code:    ErrRegistryNotFound,
			Message: fmt.Sprintf("no adapter registered for model %q", model),
		}
	}
	return p, nil
}

// Has reports whether an adapter serves the given model.
func (r *Registry) Has(model string) bool {
	_, exists := r.providers[model]
	return exists
}

// Models returns all registered model identifiers, sorted.
func (r *Registry) Models() []string {
	models := make([]string, 0, len(r.providers))
	for m := range r.providers {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// Count returns the number of registered adapters.
func (r *Registry) Count() int {
	return len(r.providers)
}

// HealthCheck runs health checks on every adapter and caches the results.
func (r *Registry) HealthCheck(ctx context.Context) map[string]*HealthResult {
	results := make(map[string]*HealthResult, len(r.providers))

	for model, p := range r.providers {
		start := time.Now()
		err := p.HealthCheck(ctx)
		result := &HealthResult{
			Healthy:     err == nil,
			Latency:     time.Since(start),
			LastChecked: time.Now(),
		}
		if err != nil {
			result.Message = err.Error()
		}
		results[model] = result
	}

	r.healthMu.Lock()
	for model, result := range results {
		r.healthResults[model] = result
	}
	r.healthMu.Unlock()

	return results
}

// HealthResults returns the cached health results from the last check.
func (r *Registry) HealthResults() map[string]*HealthResult {
	r.healthMu.RLock()
	defer r.healthMu.RUnlock()

	out := make(map[string]*HealthResult, len(r.healthResults))
	for model, result := range r.healthResults {
		copied := *result
		out[model] = &copied
	}
	return out
}

// StartPeriodicHealthCheck runs health checks in the background until the
// context is cancelled.
func (r *Registry) StartPeriodicHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.HealthCheck(ctx)
			}
		}
	}()
}
