// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package secrets stores the backend bearer token and other credentials in the
// OS keyring and resolves keyring:// references found in configuration.
package secrets

// Well-known keyring coordinates used by the assistant CLI.
const (
	DefaultService = "safebill-assistant"
	TokenKey       = "backend-token"
)

// Store provides secure secret storage operations.
type Store interface {
	// Store saves a secret value under the given service and key.
	Store(service, key, value string) error

	// Retrieve fetches the secret value for the given service and key.
	// A missing secret is reported with CodeSecretNotFound.
	Retrieve(service, key string) (string, error)

	// Delete removes the secret for the given service and key.
	Delete(service, key string) error

	// List returns all key names stored under the given service.
	List(service string) ([]string, error)
}
