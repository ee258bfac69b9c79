// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package sqlite is the default SessionStore backend, built on mattn/go-sqlite3.
package sqlite

import (
	"os"
	"path/filepath"

	"github.com/safebill/assistant/internal/store"
	sberr "github.com/safebill/assistant/pkg/errors"
)

func init() {
	store.RegisterBackend("sqlite", newSessionStore)
}

func newSessionStore(cfg *store.StorageConfig) (store.SessionStore, error) {
	if cfg.Path == "" {
		return nil, sberr.New(sberr.CodeStoreInvalidInput, "sqlite backend requires storage.path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, store.ErrDatabase(err, "creating directory for %s", cfg.Path)
	}
	return NewSessionStore(cfg.Path)
}
