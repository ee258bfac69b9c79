// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safebill/assistant/internal/provider"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// stubProvider is a provider.Provider whose availability tests control.
type stubProvider struct {
	name      string
	available bool
	closeErr  error
	closed    bool
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Available(context.Context) bool { return s.available }
func (s *stubProvider) Close() error { s.closed = true; return s.closeErr }
func (s *stubProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Provider: s.name, Available: s.available}, nil
}

func (s *stubProvider) Chat(context.Context, provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent, 1)
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
	close(ch)
	return ch, nil
}

func TestRegistry_Route(t *testing.T) {
	tests := []struct {
		name      string
		primary   bool
		secondary bool
		wantName  string
		wantModel string
		wantCode  sberr.Code
	}{
		{"primary healthy", true, true, "openai", "gpt-4.1-mini", ""},
		{"fails over", false, true, "anthropic", "claude-haiku-4-5", ""},
		{"all down", false, false, "", "", sberr.CodeProviderAllUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := provider.NewRegistry()
			r.Register(&stubProvider{name: "openai", available: tt.primary})
			r.Register(&stubProvider{name: "anthropic", available: tt.secondary})
			require.NoError(t, r.SetDefault("openai/gpt-4.1-mini"))
			require.NoError(t, r.SetFailover([]string{"anthropic/claude-haiku-4-5"}))

			p, model, err := r.Route(context.Background())
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, sberr.CodeOf(err))
				assert.True(t, sberr.IsUpstreamFailure(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
			assert.Equal(t, tt.wantModel, model)
		})
	}
}

func TestRegistry_RouteWithoutDefault(t *testing.T) {
	r := provider.NewRegistry()
	_, _, err := r.Route(context.Background())
	assert.True(t, sberr.IsNotFound(err))
}

func TestRegistry_RejectsUnknownRefs(t *testing.T) {
	r := provider.NewRegistry()
	r.Register(&provider.Echo{})

	assert.True(t, sberr.IsNotFound(r.SetDefault("openai/gpt-4.1")))
	assert.True(t, sberr.IsNotFound(r.SetFailover([]string{"echo", "google/gemini-2.5-flash"})))
	require.NoError(t, r.SetDefault("echo"))

	_, err := r.Get("google")
	assert.True(t, sberr.IsNotFound(err))
	assert.Equal(t, []string{"echo"}, r.Names())
}

func TestRegistry_StatusesAndClose(t *testing.T) {
	r := provider.NewRegistry()
	a := &stubProvider{name: "a", available: true}
	b := &stubProvider{name: "b", closeErr: errors.New("boom")}
	r.Register(a)
	r.Register(b)

	st := r.Statuses(context.Background())
	assert.True(t, st["a"].Available)
	assert.False(t, st["b"].Available)

	err := r.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
