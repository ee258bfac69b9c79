// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package google

import (
	"context"

	"google.golang.org/genai"

	"github.com/safebill/assistant/internal/provider"
	"github.com/safebill/assistant/internal/store"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// Config holds Google provider configuration.
type Config struct {
	APIKey  string
	BaseURL string
}

// Provider implements provider.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
	health *provider.HealthTracker
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new Google provider. Returns an error if the API key is missing.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, sberr.New(sberr.CodeProviderRequestInvalid, "google: missing api_key in config", sberr.FieldProvider(provider.NameGoogle))
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, sberr.Wrapf(err, sberr.CodeProviderUpstreamFailure, "google: creating client")
	}

	health, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, health: health}, nil
}

func (p *Provider) Name() string { return provider.NameGoogle }

func (p *Provider) Available(context.Context) bool { return p.health.IsHealthy() }

func (p *Provider) RecordFailure() { p.health.RecordFailure() }
func (p *Provider) RecordSuccess() { p.health.RecordSuccess() }

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	config := buildConfig(req)

	ch := make(chan provider.ChatEvent, 100)
	go func() {
		defer close(ch)
		p.streamChat(ctx, req.Model, contents, config, ch)
	}()
	return ch, nil
}

func (p *Provider) Status(context.Context) (provider.ProviderStatus, error) {
	m := p.health.Metrics()
	return provider.ProviderStatus{Available: m.Available, Provider: provider.NameGoogle, Message: "ok", Health: m}, nil
}

func (p *Provider) Close() error { return nil }

func buildConfig(req provider.ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	return cfg
}

// convertMessages maps history to genai contents. Gemini calls the
// assistant role "model".
func convertMessages(msgs []provider.Message) ([]*genai.Content, error) {
	result := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		var role string
		switch msg.Role {
		case store.MessageRoleUser:
			role = genai.RoleUser
		case store.MessageRoleAssistant:
			if msg.Content == "" {
				continue
			}
			role = genai.RoleModel
		default:
			return nil, sberr.Errorf(sberr.CodeProviderRequestInvalid, "google: unsupported message role %q", msg.Role)
		}
		result = append(result, &genai.Content{Role: role, Parts: []*genai.Part{{Text: msg.Content}}})
	}
	return result, nil
}

func (p *Provider) streamChat(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	ch chan<- provider.ChatEvent,
) {
	var usage *provider.Usage
	for result, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			p.health.RecordFailure()
			ch <- provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()}
			return
		}

		for _, candidate := range result.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" && !part.Thought {
					ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: part.Text}
				}
			}
		}

		// Every chunk carries cumulative usage; keep the last.
		if result.UsageMetadata != nil {
			usage = &provider.Usage{
				InputTokens:  int(result.UsageMetadata.PromptTokenCount),
				OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
			}
		}
	}

	p.health.RecordSuccess()
	if usage != nil {
		ch <- provider.ChatEvent{Type: provider.EventTypeUsage, Usage: usage}
	}
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
}
