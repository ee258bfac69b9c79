// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package store

// StorageConfig selects and configures a backend.
type StorageConfig struct {
	Backend string // "sqlite" (default), "memory" or "redis"
	// Path is the SQLite database file.
	Path  string
	Redis RedisConfig
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, e.g. "assistant".
	Prefix string
}
