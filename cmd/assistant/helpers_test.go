// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safebill/assistant/internal/config"
	"github.com/safebill/assistant/internal/secrets"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// mockSecretStore is an in-memory secrets.Store for testing.
type mockSecretStore struct {
	mu   sync.Mutex
	data map[string]string // key → value; the service is always the default
}

func newMockSecretStore(keys ...string) *mockSecretStore {
	m := &mockSecretStore{data: make(map[string]string)}
	for _, k := range keys {
		m.data[k] = "redacted"
	}
	return m
}

func (m *mockSecretStore) Store(_, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockSecretStore) Retrieve(_, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", sberr.Errorf(sberr.CodeSecretNotFound, "not found")
	}
	return v, nil
}

func (m *mockSecretStore) Delete(_, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return sberr.Errorf(sberr.CodeSecretNotFound, "not found")
	}
	delete(m.data, key)
	return nil
}

func (m *mockSecretStore) List(_ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// isolate points HOME at a temp dir, clears token env vars and installs
// store as the keyring.
func isolate(t *testing.T, store secrets.Store) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(tokenEnvVar, "")

	old := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return store }
	t.Cleanup(func() { secretStoreFactory = old })
}

// writeConfig writes a config file with the given extra YAML and returns
// its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assistant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// clientConfig returns a config pointing the client at baseURL. Logging is
// kept at error so the in-process backend stays quiet on the command's stderr.
func clientConfig(t *testing.T, baseURL string, extra ...string) string {
	t.Helper()
	body := fmt.Sprintf("backend:\n  base_url: %q\nlogging:\n  level: error\n", baseURL) + strings.Join(extra, "\n")
	return writeConfig(t, body)
}

// startBackend runs the reference backend in-process with memory storage
// and the echo responder. serverYAML is indented under server:.
func startBackend(t *testing.T, serverYAML string) string {
	t.Helper()

	body := "storage:\n  backend: memory\nserver:\n  rate_limit:\n    requests_per_second: 0\n"
	if serverYAML != "" {
		body += serverYAML
	}
	cfg, err := config.Load(writeConfig(t, body))
	require.NoError(t, err)

	backend, err := WireBackend(context.Background(), cfg, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	ts := httptest.NewServer(backend.Server.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// execute runs the CLI with args and returns stdout and stderr.
func execute(t *testing.T, stdin io.Reader, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	root.SetIn(stdin)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}
