// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package store

import (
	"sort"
	"sync"

	sberr "github.com/safebill/assistant/pkg/errors"
)

// Factory opens a SessionStore for cfg.
type Factory func(cfg *StorageConfig) (SessionStore, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers the factory for a named backend. Backend packages
// call this from init(). It is goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the SessionStore selected by cfg.Backend, defaulting to sqlite.
func Open(cfg *StorageConfig) (SessionStore, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	f, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, sberr.Errorf(sberr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	return f(cfg)
}
