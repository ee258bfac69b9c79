// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package provider

import (
	"context"
	"sort"
	"strings"
	"sync"

	sberr "github.com/safebill/assistant/pkg/errors"
)

// Registry holds the configured providers and picks one per turn: the
// default ref first, then the failover chain, skipping unavailable providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	defaultRef string   // "provider/model"
	failover   []string // ordered "provider/model" refs
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its name, replacing any previous one.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, sberr.New(sberr.CodeProviderNotFound, "provider not found: "+name, sberr.FieldProvider(name))
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
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

// SetDefault sets the "provider/model" ref tried first.
func (r *Registry) SetDefault(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRefLocked(ref); err != nil {
		return err
	}
	r.defaultRef = ref
	return nil
}

// SetFailover sets the refs tried, in order, when the default is unavailable.
func (r *Registry) SetFailover(chain []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range chain {
		if err := r.checkRefLocked(ref); err != nil {
			return err
		}
	}
	r.failover = append([]string(nil), chain...)
	return nil
}

// Route returns the first available provider and the model to ask it for.
func (r *Registry) Route(ctx context.Context) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.defaultRef == "" {
		return nil, "", sberr.New(sberr.CodeProviderNotFound, "no default provider configured")
	}

	for _, ref := range append([]string{r.defaultRef}, r.failover...) {
		name, model := parseRef(ref)
		p := r.providers[name]
		if p != nil && p.Available(ctx) {
			return p, model, nil
		}
	}

	return nil, "", sberr.New(sberr.CodeProviderAllUnavailable, "all providers unavailable: no healthy provider found")
}

// Statuses reports every registered provider, keyed by name.
func (r *Registry) Statuses(ctx context.Context) map[string]ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ProviderStatus, len(r.providers))
	for name, p := range r.providers {
		st, err := p.Status(ctx)
		if err != nil {
			st = ProviderStatus{Provider: name, Message: err.Error()}
		}
		out[name] = st
	}
	return out
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return sberr.Join(errs...)
	}
	return nil
}

// caller holds r.mu
func (r *Registry) checkRefLocked(ref string) error {
	name, _ := parseRef(ref)
	if _, ok := r.providers[name]; !ok {
		return sberr.New(sberr.CodeProviderNotFound, "provider not registered: "+name, sberr.FieldProvider(name))
	}
	return nil
}

// parseRef splits a "provider/model" reference on the first "/".
func parseRef(ref string) (providerName, model string) {
	name, model, _ := strings.Cut(ref, "/")
	return name, model
}
