// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package secrets

import (
	"context"
	"log/slog"
	"os"
	"strings"

	sberr "github.com/safebill/assistant/pkg/errors"
)

// CredentialProvider supplies the bearer token for backend requests. An empty
// token with a nil error means no credential is configured.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticProvider returns a fixed token, typically from configuration.
type StaticProvider string

func (p StaticProvider) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(p)), nil
}

// EnvProvider reads the token from an environment variable on every call.
type EnvProvider struct {
	Var string
}

func (p EnvProvider) Token(context.Context) (string, error) {
	return strings.TrimSpace(os.Getenv(p.Var)), nil
}

// KeyringProvider reads the token saved by `assistant login`.
type KeyringProvider struct {
	Store   Store
	Service string
	Key     string
}

// NewKeyringProvider returns a provider for the default token entry.
func NewKeyringProvider(store Store) *KeyringProvider {
	return &KeyringProvider{Store: store, Service: DefaultService, Key: TokenKey}
}

func (p *KeyringProvider) Token(context.Context) (string, error) {
	token, err := p.Store.Retrieve(p.Service, p.Key)
	if sberr.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// ChainProvider returns the first non-empty token from its providers. An
// error from any provider stops the chain.
type ChainProvider []CredentialProvider

func (c ChainProvider) Token(ctx context.Context) (string, error) {
	for _, p := range c {
		token, err := p.Token(ctx)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
	}
	slog.Debug("no backend credential configured")
	return "", nil
}
