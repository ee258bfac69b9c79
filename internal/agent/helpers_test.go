// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package agent_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safebill/assistant/internal/agent"
	"github.com/safebill/assistant/internal/provider"
	"github.com/safebill/assistant/internal/store/memory"
)

// scriptedProvider replays a fixed event list and records each request.
type scriptedProvider struct {
	name   string
	events []provider.ChatEvent

	mu       sync.Mutex
	requests []provider.ChatRequest
}

func (p *scriptedProvider) Name() string                   { return p.name }
func (p *scriptedProvider) Available(context.Context) bool { return true }
func (p *scriptedProvider) Close() error                   { return nil }

func (p *scriptedProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: true, Provider: p.name}, nil
}

func (p *scriptedProvider) Chat(_ context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	ch := make(chan provider.ChatEvent, len(p.events))
	for _, ev := range p.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) lastRequest() provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []agent.Event
}

func (r *recorder) emit(ev agent.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []agent.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agent.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s string
	for _, ev := range r.events {
		if ev.Type == agent.EventTextDelta {
			s += ev.Text
		}
	}
	return s
}

func newRegistry(t *testing.T, p provider.Provider, ref string) *provider.Registry {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(p)
	require.NoError(t, reg.SetDefault(ref))
	return reg
}

func newEchoLoop(t *testing.T) (*agent.Loop, *memory.Store) {
	t.Helper()
	ms := memory.New()
	loop := agent.NewLoop(agent.LoopConfig{
		Sessions: agent.NewSessionManager(ms, 0),
		Router:   newRegistry(t, &provider.Echo{}, "echo/echo"),
	})
	t.Cleanup(loop.Close)
	return loop, ms
}
