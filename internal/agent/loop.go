// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package agent turns one inbound chat message into a streamed assistant
// reply: it owns the session, serializes turns per session, calls the routed
// provider and persists both halves of the exchange.
package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/safebill/assistant/internal/provider"
	"github.com/safebill/assistant/internal/store"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// InboundMessage is the input to the agent loop. An empty SessionID starts a
// new session.
type InboundMessage struct {
	UserID    string
	SessionID string
	Content   string
}

// OutboundMessage summarizes a completed turn.
type OutboundMessage struct {
	SessionID string
	Content   string
	Usage     *provider.Usage
}

// EventType names what a turn reports while it runs.
type EventType string

const (
	EventSessionID EventType = "session_id"
	EventTextDelta EventType = "text_delta"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// Event is one progress report. Only the field matching Type is set.
type Event struct {
	Type      EventType
	SessionID string
	Text      string
	Error     string
}

// Emitter receives events in order. A non-nil return aborts the turn.
type Emitter func(Event) error

// Router picks the provider for a turn. *provider.Registry implements it.
type Router interface {
	Route(ctx context.Context) (provider.Provider, string, error)
}

// LoopConfig holds dependencies for the Loop.
type LoopConfig struct {
	Sessions     *SessionManager
	Router       Router
	SystemPrompt string
	MaxTokens    int
}

// Loop is the assistant's turn pipeline.
type Loop struct {
	sessions     *SessionManager
	router       Router
	lanes        *LanePool
	systemPrompt string
	maxTokens    int
}

// NewLoop creates a Loop with the given dependencies.
func NewLoop(cfg LoopConfig) *Loop {
	return &Loop{
		sessions:     cfg.Sessions,
		router:       cfg.Router,
		lanes:        NewLanePool(),
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
	}
}

// Sessions exposes the loop's session manager for read-only routes.
func (l *Loop) Sessions() *SessionManager { return l.sessions }

// ProcessMessage runs one turn. For a new session the first event is
// EventSessionID. Text arrives as EventTextDelta and the turn ends with
// exactly one EventDone or EventError. The assistant reply is persisted only
// when the provider finishes cleanly.
func (l *Loop) ProcessMessage(ctx context.Context, msg InboundMessage, emit Emitter) (*OutboundMessage, error) {
	if err := validateInput(msg); err != nil {
		return nil, err
	}

	session, err := l.openSession(ctx, msg)
	if err != nil {
		return nil, err
	}
	if msg.SessionID == "" {
		if err := emit(Event{Type: EventSessionID, SessionID: session.ID}); err != nil {
			return nil, sberr.Wrapf(err, sberr.CodeAgentTurnFailure, "emit session id: session %s", session.ID)
		}
	}

	var out *OutboundMessage
	err = l.lanes.Get(session.ID).Submit(ctx, func(ctx context.Context) error {
		var turnErr error
		out, turnErr = l.runTurn(ctx, session, msg.Content, emit)
		return turnErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSession removes a session the user owns and retires its lane.
func (l *Loop) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := l.sessions.Delete(ctx, userID, sessionID); err != nil {
		return err
	}
	l.lanes.Remove(sessionID)
	return nil
}

// Close stops every session lane, letting queued turns finish first.
func (l *Loop) Close() {
	l.lanes.Close()
}

func validateInput(msg InboundMessage) error {
	if msg.UserID == "" {
		return sberr.New(sberr.CodeAgentTurnInvalidInput, "user id is required")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return sberr.New(sberr.CodeAgentTurnInvalidInput, "message must not be empty")
	}
	return nil
}

func (l *Loop) openSession(ctx context.Context, msg InboundMessage) (*store.Session, error) {
	if msg.SessionID == "" {
		session, err := l.sessions.Create(ctx, msg.UserID, msg.Content)
		if err != nil {
			return nil, sberr.Wrapf(err, sberr.CodeAgentTurnFailure, "create session for user %s", msg.UserID)
		}
		slog.Info("session created", "session_id", session.ID, "user_id", msg.UserID)
		return session, nil
	}
	return l.sessions.Get(ctx, msg.UserID, msg.SessionID)
}

func (l *Loop) runTurn(ctx context.Context, session *store.Session, content string, emit Emitter) (*OutboundMessage, error) {
	if _, err := l.sessions.Append(ctx, session.ID, store.MessageRoleUser, content); err != nil {
		return nil, sberr.Wrapf(err, sberr.CodeAgentTurnFailure, "store user message: session %s", session.ID)
	}

	history, err := l.sessions.ss.GetMessages(ctx, session.ID)
	if err != nil {
		return nil, sberr.Wrapf(err, sberr.CodeAgentTurnFailure, "load history: session %s", session.ID)
	}

	p, model, err := l.router.Route(ctx)
	if err != nil {
		return nil, l.fail(emit, session.ID, err)
	}

	events, err := p.Chat(ctx, provider.ChatRequest{
		Model:        model,
		Messages:     toProviderMessages(history),
		SystemPrompt: l.systemPrompt,
		MaxTokens:    l.maxTokens,
	})
	if err != nil {
		return nil, l.fail(emit, session.ID, err)
	}

	var (
		text  strings.Builder
		usage *provider.Usage
	)
	for ev := range events {
		switch ev.Type {
		case provider.EventTypeTextDelta:
			text.WriteString(ev.Text)
			if err := emit(Event{Type: EventTextDelta, Text: ev.Text}); err != nil {
				drain(events)
				return nil, sberr.Wrapf(err, sberr.CodeAgentTurnFailure, "emit text: session %s", session.ID)
			}
		case provider.EventTypeUsage:
			usage = ev.Usage
		case provider.EventTypeError:
			drain(events)
			upstream := sberr.New(sberr.CodeProviderUpstreamFailure, ev.Error, sberr.FieldProvider(p.Name()))
			return nil, l.fail(emit, session.ID, upstream)
		case provider.EventTypeDone:
		}
	}

	// Providers stop early without an error event when ctx ends.
	if err := ctx.Err(); err != nil {
		return nil, sberr.Wrapf(err, sberr.CodeAgentTurnFailure, "turn cancelled: session %s", session.ID)
	}

	if _, err := l.sessions.Append(ctx, session.ID, store.MessageRoleAssistant, text.String()); err != nil {
		return nil, l.fail(emit, session.ID, err)
	}
	if usage != nil {
		slog.Debug("turn usage",
			"session_id", session.ID,
			"provider", p.Name(),
			"model", model,
			"input_tokens", usage.InputTokens,
			"output_tokens", usage.OutputTokens)
	}

	if err := emit(Event{Type: EventDone}); err != nil {
		return nil, sberr.Wrapf(err, sberr.CodeAgentTurnFailure, "emit done: session %s", session.ID)
	}
	return &OutboundMessage{SessionID: session.ID, Content: text.String(), Usage: usage}, nil
}

// fail reports err to the client as an error event and returns it wrapped.
// The client sees a generic message; details stay in the log.
func (l *Loop) fail(emit Emitter, sessionID string, err error) error {
	slog.Warn("turn failed", "session_id", sessionID, "error", err)
	_ = emit(Event{Type: EventError, Error: clientMessage(err)})
	return sberr.Wrapf(err, sberr.CodeAgentTurnFailure, "turn failed: session %s", sessionID)
}

func clientMessage(err error) string {
	if sberr.HasCode(err, sberr.CodeProviderAllUnavailable) || sberr.HasCode(err, sberr.CodeProviderNotFound) {
		return "no assistant is available right now"
	}
	return "the assistant could not complete this reply"
}

func toProviderMessages(history []*store.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		out = append(out, provider.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// drain lets the provider goroutine finish sending and exit.
func drain(events <-chan provider.ChatEvent) {
	go func() {
		for range events {
		}
	}()
}
