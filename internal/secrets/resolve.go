// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package secrets

import (
	"fmt"
	"strings"

	sberr "github.com/safebill/assistant/pkg/errors"
	"github.com/spf13/viper"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// URI scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// KeyringURI builds the keyring://service/key reference for a stored secret.
func KeyringURI(service, key string) string {
	return keyringScheme + service + "/" + key
}

// ParseKeyringURI extracts service and key from a keyring://service/key URI.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", sberr.Errorf(sberr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	service, key, ok := strings.Cut(strings.TrimPrefix(uri, keyringScheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", sberr.Errorf(sberr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return service, key, nil
}

// ResolveKeyringURI returns the secret referenced by value, or value itself
// when it is not a keyring URI.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", sberr.Wrapf(err, sberr.CodeSecretResolveFailure, "resolving keyring URI %q", value)
	}
	return secret, nil
}

// ResolveViperSecrets replaces every keyring:// string in v with the secret it
// references. Unresolvable references are left in place and reported together.
func ResolveViperSecrets(v *viper.Viper, store Store) error {
	var failed []string
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if !IsKeyringURI(val) {
			continue
		}

		resolved, err := ResolveKeyringURI(store, val)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s (%s): %v", key, val, err))
			continue
		}
		v.Set(key, resolved)
	}

	if len(failed) > 0 {
		return sberr.Errorf(sberr.CodeSecretResolveFailure, "unresolved secrets: %s", strings.Join(failed, "; "))
	}
	return nil
}
