// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/safebill/assistant/internal/agent"
	"github.com/safebill/assistant/internal/client"
	"github.com/safebill/assistant/internal/config"
	"github.com/safebill/assistant/internal/conversation"
	"github.com/safebill/assistant/internal/directory"
	"github.com/safebill/assistant/internal/provider"
	anthropicprov "github.com/safebill/assistant/internal/provider/anthropic"
	googleprov "github.com/safebill/assistant/internal/provider/google"
	openaiprov "github.com/safebill/assistant/internal/provider/openai"
	"github.com/safebill/assistant/internal/secrets"
	"github.com/safebill/assistant/internal/server"
	"github.com/safebill/assistant/internal/store"
	_ "github.com/safebill/assistant/internal/store/memory" // register memory backend
	_ "github.com/safebill/assistant/internal/store/redis"  // register redis backend
	_ "github.com/safebill/assistant/internal/store/sqlite" // register sqlite backend
	"github.com/safebill/assistant/internal/stream"
	"github.com/safebill/assistant/internal/transcript"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// tokenEnvVar is checked after backend.token and before the keyring.
const tokenEnvVar = "SAFEBILL_TOKEN"

// secretStoreFactory creates a secrets.Store. It is a package-level variable
// so tests can substitute a mock implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

// credentials returns the bearer token source: the configured token, then
// $SAFEBILL_TOKEN, then the token saved by `assistant login`.
func credentials(cfg *config.Config) secrets.CredentialProvider {
	return secrets.ChainProvider{
		secrets.StaticProvider(cfg.Backend.Token),
		secrets.EnvProvider{Var: tokenEnvVar},
		secrets.NewKeyringProvider(secretStoreFactory()),
	}
}

// newBackendClient builds the HTTP client for the configured backend.
func newBackendClient(cfg *config.Config) (*client.Client, error) {
	cl, err := client.New(client.Config{
		BaseURL:      cfg.Backend.BaseURL,
		ChatPath:     cfg.Backend.ChatPath,
		SessionsPath: cfg.Backend.SessionsPath,
		SessionPath:  cfg.Backend.SessionPath,
		Credentials:  credentials(cfg),
		Timeout:      cfg.Backend.Timeout,
		UserAgent:    "safebill-assistant/" + version,
	})
	if err != nil {
		return nil, sberr.Wrapf(err, sberr.CodeCLISetupFailure, "creating backend client")
	}
	return cl, nil
}

// newController wires a conversation controller to cl. onFragment, when set,
// sees every fragment as it reaches the transcript.
func newController(cfg *config.Config, cl *client.Client, onFragment func(string)) (*conversation.Controller, error) {
	coord, err := stream.New(stream.Config{
		Transport:     cl,
		FailureNotice: cfg.Assistant.FailureNotice,
		OnFragment:    onFragment,
	})
	if err != nil {
		return nil, sberr.Wrapf(err, sberr.CodeCLISetupFailure, "creating stream coordinator")
	}

	var opts []transcript.Option
	if cfg.Assistant.StrictHandles {
		opts = append(opts, transcript.WithStrict())
	}
	return conversation.New(coord, directory.New(cl), transcript.New(opts...)), nil
}

// Backend holds the wired reference backend and manages its lifecycle.
type Backend struct {
	Server    *server.Server
	Store     store.SessionStore
	Providers *provider.Registry
	Loop      *agent.Loop
}

// WireBackend creates the store, responder, agent loop and HTTP server from
// cfg. The dataDir holds the sqlite database unless storage.path is set.
func WireBackend(ctx context.Context, cfg *config.Config, dataDir string) (*Backend, error) {
	storeCfg := &store.StorageConfig{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
		Redis: store.RedisConfig{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		},
	}
	if storeCfg.Backend == "sqlite" && storeCfg.Path == "" {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, sberr.Errorf(sberr.CodeCLISetupFailure, "creating data directory: %w", err)
		}
		storeCfg.Path = filepath.Join(dataDir, "assistant.db")
	}

	ss, err := store.Open(storeCfg)
	if err != nil {
		return nil, sberr.Wrapf(err, sberr.CodeCLISetupFailure, "opening %s session store", cfg.Storage.Backend)
	}

	reg, err := newResponderRegistry(ctx, cfg.Responder)
	if err != nil {
		_ = ss.Close()
		return nil, err
	}

	loop := agent.NewLoop(agent.LoopConfig{
		Sessions:     agent.NewSessionManager(ss, cfg.Server.TitleLength),
		Router:       reg,
		SystemPrompt: cfg.Responder.SystemPrompt,
		MaxTokens:    cfg.Responder.MaxTokens,
	})

	tokens := make([]server.StaticToken, 0, len(cfg.Server.Auth.Tokens))
	for _, t := range cfg.Server.Auth.Tokens {
		tokens = append(tokens, server.StaticToken{Token: t.Token, UserID: t.User})
	}

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
		Auth: server.AuthConfig{
			Tokens:    tokens,
			JWTSecret: cfg.Server.Auth.JWTSecret,
			JWTIssuer: cfg.Server.Auth.JWTIssuer,
		},
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
		},
		Version: version,
	}, server.Deps{Loop: loop, Providers: reg})
	if err != nil {
		loop.Close()
		_ = reg.Close()
		_ = ss.Close()
		return nil, sberr.Wrapf(err, sberr.CodeCLISetupFailure, "creating server")
	}

	return &Backend{Server: srv, Store: ss, Providers: reg, Loop: loop}, nil
}

// Start runs the HTTP server and blocks until the context is cancelled.
func (b *Backend) Start(ctx context.Context) error {
	return b.Server.Start(ctx)
}

// Close releases all resources held by the backend. The loop closes first so
// queued turns finish before the store goes away.
func (b *Backend) Close() error {
	b.Server.Close()
	b.Loop.Close()

	var errs []error
	for _, c := range []interface{ Close() error }{b.Providers, b.Store} {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// providerFactory builds a provider.Provider from the responder section.
type providerFactory func(ctx context.Context, rc config.ResponderConfig) (provider.Provider, error)

// builtinProviderFactories maps responder.provider values to constructors.
// Declared as a variable so tests can inject failing factories.
var builtinProviderFactories = map[string]providerFactory{
	provider.EchoName: func(context.Context, config.ResponderConfig) (provider.Provider, error) {
		return &provider.Echo{}, nil
	},
	provider.NameAnthropic: func(_ context.Context, rc config.ResponderConfig) (provider.Provider, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: rc.APIKey, BaseURL: rc.BaseURL})
	},
	provider.NameGoogle: func(ctx context.Context, rc config.ResponderConfig) (provider.Provider, error) {
		return googleprov.New(ctx, googleprov.Config{APIKey: rc.APIKey, BaseURL: rc.BaseURL})
	},
	provider.NameOpenAI: func(_ context.Context, rc config.ResponderConfig) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{APIKey: rc.APIKey, BaseURL: rc.BaseURL})
	},
}

// newResponderRegistry registers the configured responder and routes every
// turn to it. A remote provider that cannot be built falls back to echo so
// the backend still starts; its status route reports the fallback.
func newResponderRegistry(ctx context.Context, rc config.ResponderConfig) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	name := rc.Provider
	if name == "" {
		name = provider.EchoName
	}
	factory, ok := builtinProviderFactories[name]
	if !ok {
		return nil, sberr.Errorf(sberr.CodeCLISetupFailure, "unknown responder provider %q", name)
	}

	model := rc.Model
	p, err := factory(ctx, rc)
	if err != nil {
		slog.Warn("failed to create responder, falling back to echo", "provider", name, "error", err)
		p, name, model = &provider.Echo{}, provider.EchoName, ""
	}
	reg.Register(p)

	if model == "" {
		model = name
	}
	if err := reg.SetDefault(name + "/" + model); err != nil {
		_ = reg.Close()
		return nil, sberr.Wrapf(err, sberr.CodeCLISetupFailure, "setting default responder")
	}
	slog.Info("registered responder", "provider", name, "model", model)
	return reg, nil
}
