// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package provider

import (
	"context"
	"strings"
	"time"

	"github.com/safebill/assistant/internal/store"
)

// EchoName is the name of the built-in responder.
const EchoName = "echo"

// Echo answers every turn by repeating the last user message, one word per
// delta. It needs no credentials and is the default responder for local
// development.
type Echo struct {
	// Delay is slept between deltas so clients can observe streaming.
	Delay time.Duration
}

var _ Provider = (*Echo)(nil)

func (e *Echo) Name() string { return EchoName }

func (e *Echo) Available(context.Context) bool { return true }

func (e *Echo) Chat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error) {
	reply := "You said: " + lastUserMessage(req.Messages)

	ch := make(chan ChatEvent, 16)
	go func() {
		defer close(ch)

		for i, word := range strings.SplitAfter(reply, " ") {
			if i > 0 && e.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.Delay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- ChatEvent{Type: EventTypeTextDelta, Text: word}:
			}
		}

		words := len(strings.Fields(reply))
		select {
		case <-ctx.Done():
			return
		case ch <- ChatEvent{Type: EventTypeUsage, Usage: &Usage{OutputTokens: words}}:
		}
		select {
		case <-ctx.Done():
		case ch <- ChatEvent{Type: EventTypeDone}:
		}
	}()
	return ch, nil
}

func (e *Echo) Status(ctx context.Context) (ProviderStatus, error) {
	return ProviderStatus{Available: true, Provider: EchoName, Message: "ok"}, nil
}

func (e *Echo) Close() error { return nil }

func lastUserMessage(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == store.MessageRoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
