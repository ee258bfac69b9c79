// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safebill/assistant/internal/config"
	"github.com/safebill/assistant/internal/provider"
	"github.com/safebill/assistant/internal/secrets"
	sberr "github.com/safebill/assistant/pkg/errors"
)

const testBackendURL = "http://127.0.0.1:8787"

// --- Config generation tests ---

func TestGenerateConfigYAML(t *testing.T) {
	tests := []struct {
		name    string
		result  initResult
		checks  []string
		missing []string
	}{
		{
			name:   "anthropic responder",
			result: initResult{Provider: provider.NameAnthropic, APIKey: "sk-ant-test", BackendURL: testBackendURL, Token: "tok-1"},
			checks: []string{
				"keyring://safebill-assistant/anthropic-api-key",
				`model: "claude-sonnet-4-5"`,
				`base_url: "` + testBackendURL + `"`,
			},
		},
		{
			name:   "openai responder",
			result: initResult{Provider: provider.NameOpenAI, APIKey: "sk-openai", BackendURL: testBackendURL},
			checks: []string{"keyring://safebill-assistant/openai-api-key", `model: "gpt-4o"`},
		},
		{
			name:   "google responder",
			result: initResult{Provider: provider.NameGoogle, APIKey: "AIza...", BackendURL: testBackendURL},
			checks: []string{"keyring://safebill-assistant/google-api-key", `model: "gemini-2.0-flash"`},
		},
		{
			name:    "echo responder",
			result:  initResult{Provider: provider.EchoName, BackendURL: testBackendURL},
			checks:  []string{"provider: echo"},
			missing: []string{"api_key", "model:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := GenerateConfigYAML(tt.result)
			for _, check := range tt.checks {
				assert.Contains(t, yaml, check, "YAML missing expected content: %q", check)
			}
			for _, m := range tt.missing {
				assert.NotContains(t, yaml, m)
			}
			if tt.result.APIKey != "" {
				assert.NotContains(t, yaml, tt.result.APIKey, "plain-text API key must not appear in YAML")
			}
			if tt.result.Token != "" {
				assert.NotContains(t, yaml, tt.result.Token, "plain-text token must not appear in YAML")
			}
		})
	}
}

func TestGenerateConfigYAML_LoadsAsValidConfig(t *testing.T) {
	for _, p := range supportedResponders {
		t.Run(p, func(t *testing.T) {
			path := writeConfig(t, GenerateConfigYAML(initResult{Provider: p, BackendURL: testBackendURL}))
			cfg, err := config.Load(path)
			require.NoError(t, err)
			assert.Equal(t, p, cfg.Responder.Provider)
			assert.Equal(t, testBackendURL, cfg.Backend.BaseURL)
		})
	}
}

func TestDefaultModelForProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{provider.NameAnthropic, "claude-sonnet-4-5"},
		{provider.NameOpenAI, "gpt-4o"},
		{provider.NameGoogle, "gemini-2.0-flash"},
		{"custom", "custom"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			assert.Equal(t, tt.want, defaultModelForProvider(tt.provider))
		})
	}
}

// --- bubbletea model state transition tests ---

func TestInitModel_ResponderSelection(t *testing.T) {
	m := newInitModel(nil, testBackendURL)
	assert.Equal(t, stepResponder, m.step)
	assert.Equal(t, 0, m.responderIdx)

	// Navigate down twice.
	m2, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m3, _ := m2.(initModel).Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 2, m3.(initModel).responderIdx)

	// Navigate up once.
	m4, _ := m3.(initModel).Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m4.(initModel).responderIdx)

	// Can't go above 0.
	m5, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m5.(initModel).responderIdx)

	// Can't go below max.
	mMax := m
	mMax.responderIdx = len(supportedResponders) - 1
	m6, _ := mMax.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, len(supportedResponders)-1, m6.(initModel).responderIdx)
}

func TestInitModel_SelectResponder(t *testing.T) {
	tests := []struct {
		name     string
		idx      int
		wantStep initWizardStep
		wantName string
	}{
		{name: "echo skips the key", idx: 0, wantStep: stepToken, wantName: provider.EchoName},
		{name: "openai asks for a key", idx: 2, wantStep: stepAPIKey, wantName: provider.NameOpenAI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newInitModel(nil, testBackendURL)
			m.responderIdx = tt.idx

			m2, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
			result := m2.(initModel)
			assert.Equal(t, tt.wantStep, result.step)
			assert.Equal(t, tt.wantName, result.result.Provider)
		})
	}
}

func TestInitModel_EmptyAPIKey_ShowsError(t *testing.T) {
	m := newInitModel(nil, testBackendURL)
	m.step = stepAPIKey
	m.result.Provider = provider.NameAnthropic

	m2, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	result := m2.(initModel)
	assert.Equal(t, stepAPIKey, result.step)
	assert.NotEmpty(t, result.validationErr)
}

func TestInitModel_APIKeyValidation(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantStep initWizardStep
	}{
		{name: "accepted", status: http.StatusOK, wantStep: stepToken},
		{name: "rejected", status: http.StatusUnauthorized, wantStep: stepAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()
			// Route the provider's real models URL to the test server.
			old := initHTTPClient
			initHTTPClient = &http.Client{Transport: rewriteTransport{target: ts.URL, base: ts.Client().Transport}}
			t.Cleanup(func() { initHTTPClient = old })

			m := newInitModel(nil, testBackendURL)
			m.step = stepAPIKey
			m.result.Provider = provider.NameOpenAI
			m.apiKeyInput.SetValue("sk-test")

			m2, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
			require.Equal(t, stepValidateKey, m2.(initModel).step)

			m3, _ := m2.Update(runValidation(t, cmd))
			assert.Equal(t, tt.wantStep, m3.(initModel).step)
		})
	}
}

func TestInitModel_TokenValidation(t *testing.T) {
	serverAuth := "  auth:\n    tokens:\n      - token: good-token\n        user: alice\n"
	backendURL := startBackend(t, serverAuth)

	tests := []struct {
		name     string
		url      string
		token    string
		wantStep initWizardStep
		wantErr  string
		wantWarn bool
	}{
		{name: "accepted", url: backendURL, token: "good-token", wantStep: stepToken},
		{name: "rejected", url: backendURL, token: "bad-token", wantStep: stepToken, wantErr: "rejected"},
		{name: "unreachable", url: "http://127.0.0.1:1", token: "tok", wantStep: stepToken, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newInitModel(nil, tt.url)
			m.step = stepToken
			m.tokenInput.SetValue(tt.token)

			m2, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
			require.Equal(t, stepValidateToken, m2.(initModel).step)

			msg := runValidation(t, cmd)
			if tt.wantErr != "" {
				errMsg, ok := msg.(validationErrorMsg)
				require.True(t, ok, "got %T", msg)
				assert.Contains(t, errMsg.err.Error(), tt.wantErr)

				m3, _ := m2.Update(msg)
				assert.Equal(t, tt.wantStep, m3.(initModel).step)
				assert.Contains(t, m3.(initModel).validationErr, tt.wantErr)
				return
			}
			ok, isOK := msg.(validationSuccessMsg)
			require.True(t, isOK, "got %T", msg)
			assert.Equal(t, tt.wantWarn, ok.warning != "")
		})
	}
}

func TestInitModel_EmptyTokenSkipsToWrite(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "assistant.yaml")
	origFn := configPathForWrite
	configPathForWrite = func() (string, error) { return cfgPath, nil }
	t.Cleanup(func() { configPathForWrite = origFn })

	store := newMockSecretStore()
	m := newInitModel(store, testBackendURL)
	m.step = stepToken
	m.result.Provider = provider.EchoName

	m2, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	msg := cmd()
	written, ok := msg.(configWrittenMsg)
	require.True(t, ok, "got %T: %v", msg, msg)
	assert.Equal(t, cfgPath, written.path)

	m3, _ := m2.Update(msg)
	assert.Equal(t, stepDone, m3.(initModel).step)
	assert.Contains(t, m3.View(), "Setup complete")

	_, err := store.Retrieve(secrets.DefaultService, secrets.TokenKey)
	assert.True(t, sberr.HasCode(err, sberr.CodeSecretNotFound))
}

func TestInitModel_ValidationError_ResetsToInput(t *testing.T) {
	m := newInitModel(nil, testBackendURL)
	m.step = stepValidateKey

	m2, _ := m.Update(validationErrorMsg{
		step: stepValidateKey,
		err:  sberr.New(sberr.CodeCLIInputInvalid, "bad key"),
	})
	result := m2.(initModel)
	assert.Equal(t, stepAPIKey, result.step)
	assert.Contains(t, result.validationErr, "bad key")
}

func TestInitModel_WriteError_TransitionsToError(t *testing.T) {
	m := newInitModel(nil, testBackendURL)
	m.step = stepToken

	m2, cmd := m.Update(sberr.New(sberr.CodeConfigAlreadyExists, "exists"))
	fm := m2.(initModel)
	assert.Equal(t, stepError, fm.step)
	assert.NotNil(t, cmd)
	assert.Contains(t, fm.View(), "Setup failed")
}

func TestInitModel_View_ContainsExpectedContent(t *testing.T) {
	tests := []struct {
		name string
		step initWizardStep
		want []string
	}{
		{
			name: "responder step",
			step: stepResponder,
			want: []string{"Step 1/2", "echo", "anthropic", "openai", "google"},
		},
		{
			name: "token step",
			step: stepToken,
			want: []string{"Step 2/2", testBackendURL, "empty skips"},
		},
		{
			name: "done step",
			step: stepDone,
			want: []string{"Setup complete", "assistant serve", "assistant chat", "assistant doctor"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newInitModel(nil, testBackendURL)
			m.step = tt.step
			view := m.View()
			for _, w := range tt.want {
				assert.Contains(t, view, w)
			}
		})
	}
}

// --- Config overwrite detection ---

func TestStoreSecretsAndWriteConfig_OverwriteProtection(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "assistant.yaml")

	origFn := configPathForWrite
	configPathForWrite = func() (string, error) { return cfgPath, nil }
	t.Cleanup(func() { configPathForWrite = origFn })

	store := newMockSecretStore()
	result := initResult{
		Provider:   provider.NameAnthropic,
		APIKey:     "sk-test",
		BackendURL: testBackendURL,
		Token:      "tok",
	}

	// First write should succeed.
	path, err := storeSecretsAndWriteConfig(result, store, false)
	require.NoError(t, err)
	assert.Equal(t, cfgPath, path)

	// Second write without force should fail.
	_, err = storeSecretsAndWriteConfig(result, store, false)
	require.Error(t, err)
	assert.True(t, sberr.HasCode(err, sberr.CodeConfigAlreadyExists))
	assert.Contains(t, err.Error(), "--force to overwrite")

	// Write with force should succeed.
	path, err = storeSecretsAndWriteConfig(result, store, true)
	require.NoError(t, err)
	assert.Equal(t, cfgPath, path)

	key, err := store.Retrieve(secrets.DefaultService, "anthropic-api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", key)
	token, err := store.Retrieve(secrets.DefaultService, secrets.TokenKey)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestStoreSecretsAndWriteConfig_ReplacesBootstrappedDefaults(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "assistant.yaml")
	require.NoError(t, os.WriteFile(cfgPath, config.DefaultConfigYAML, 0o600))

	origFn := configPathForWrite
	configPathForWrite = func() (string, error) { return cfgPath, nil }
	t.Cleanup(func() { configPathForWrite = origFn })

	_, err := storeSecretsAndWriteConfig(initResult{Provider: provider.EchoName, BackendURL: testBackendURL}, newMockSecretStore(), false)
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Safe Bill assistant configuration"))
}

func TestInitCommand_RequiresTerminal(t *testing.T) {
	isolate(t, newMockSecretStore())

	_, errOut, err := execute(t, nil, "init", "--config", writeConfig(t, ""))
	require.Error(t, err)
	assert.True(t, sberr.HasCode(err, sberr.CodeCLISetupFailure))
	assert.Contains(t, errOut, "requires an interactive terminal")
}

// runValidation runs the validation command inside a batch and returns its
// message, skipping spinner ticks.
func runValidation(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	require.NotNil(t, cmd)
	batch, ok := cmd().(tea.BatchMsg)
	require.True(t, ok, "expected a batch")
	for _, c := range batch {
		if c == nil {
			continue
		}
		switch msg := c().(type) {
		case validationSuccessMsg, validationErrorMsg:
			return msg
		}
	}
	t.Fatal("batch carried no validation result")
	return nil
}

// rewriteTransport sends every request to target, keeping the path.
type rewriteTransport struct {
	target string
	base   http.RoundTripper
}

func (rt rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	target, err := url.Parse(rt.target)
	if err != nil {
		return nil, err
	}
	r2 := r.Clone(r.Context())
	r2.URL.Scheme = target.Scheme
	r2.URL.Host = target.Host
	r2.Host = target.Host
	return rt.base.RoundTrip(r2)
}
