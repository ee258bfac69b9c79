// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	sberr "github.com/safebill/assistant/pkg/errors"
	"github.com/zalando/go-keyring"
)

// indexSuffix names the keyring entry holding the JSON list of keys stored for
// a service. go-keyring cannot enumerate entries on its own.
const indexSuffix = "::index"

// KeyringStore implements Store on top of the OS keyring (Keychain,
// secret-service or Windows Credential Manager).
type KeyringStore struct{}

// NewKeyringStore returns a KeyringStore.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := validateRef("store", service, key); err != nil {
		return err
	}

	if err := keyring.Set(service, key, value); err != nil {
		return sberr.Wrapf(err, sberr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}

	return s.updateIndex(service, func(keys []string) []string {
		if slices.Contains(keys, key) {
			return keys
		}
		return append(keys, key)
	})
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := validateRef("retrieve", service, key); err != nil {
		return "", err
	}

	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", sberr.Errorf(sberr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return "", sberr.Wrapf(err, sberr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := validateRef("delete", service, key); err != nil {
		return err
	}

	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return sberr.Errorf(sberr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return sberr.Wrapf(err, sberr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}

	return s.updateIndex(service, func(keys []string) []string {
		return slices.DeleteFunc(keys, func(k string) bool { return k == key })
	})
}

func (s *KeyringStore) List(service string) ([]string, error) {
	if service == "" {
		return nil, sberr.New(sberr.CodeSecretInvalidInput, "secret list: service must not be empty")
	}
	return readIndex(service)
}

func (s *KeyringStore) updateIndex(service string, edit func([]string) []string) error {
	keys, err := readIndex(service)
	if err != nil {
		return err
	}
	return writeIndex(service, edit(keys))
}

func readIndex(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+indexSuffix)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, sberr.Wrapf(err, sberr.CodeSecretListFailure, "loading key index for %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, sberr.Wrapf(err, sberr.CodeSecretListFailure, "decoding key index for %s", service)
	}
	return keys, nil
}

func writeIndex(service string, keys []string) error {
	indexKey := service + indexSuffix

	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("removing empty key index", "service", service, "error", err)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return sberr.Wrapf(err, sberr.CodeSecretListFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return sberr.Wrapf(err, sberr.CodeSecretListFailure, "saving key index for %s", service)
	}
	return nil
}

func validateRef(op, service, key string) error {
	if service == "" {
		return sberr.Errorf(sberr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" {
		return sberr.Errorf(sberr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	return nil
}
