// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package provider adapts LLM APIs into the streaming responder used by the
// reference backend.
package provider

import (
	"context"

	"github.com/safebill/assistant/internal/store"
)

// Provider is the core interface for LLM providers.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	// Chat streams the reply. The channel is closed after a done or error
	// event, or when ctx is cancelled.
	Chat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)
	Status(ctx context.Context) (ProviderStatus, error)
	Close() error
}

// ChatRequest represents a request to the LLM.
type ChatRequest struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
}

// Message is one history entry sent to the model.
type Message struct {
	Role    store.MessageRole
	Content string
}

// ChatEvent is a streaming response event.
type ChatEvent struct {
	Type  EventType
	Text  string
	Usage *Usage
	Error string
}

// EventType defines the type of chat event.
type EventType string

const (
	EventTypeTextDelta EventType = "text_delta"
	EventTypeUsage     EventType = "usage"
	EventTypeDone      EventType = "done"
	EventTypeError     EventType = "error"
)

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ProviderStatus indicates provider health.
type ProviderStatus struct {
	Available bool           `json:"available"`
	Provider  string         `json:"provider"`
	Message   string         `json:"message"`
	Health    *HealthMetrics `json:"health,omitempty"`
}

// HealthReporter is implemented by providers that track upstream failures.
type HealthReporter interface {
	RecordFailure()
	RecordSuccess()
}
