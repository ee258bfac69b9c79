// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package stream runs one conversational turn: it posts the user's message,
// decodes the backend's event stream and applies it to the transcript.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/safebill/assistant/internal/client"
	"github.com/safebill/assistant/internal/session"
	"github.com/safebill/assistant/internal/transcript"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// DefaultFailureNotice replaces a partial answer when a turn fails.
const DefaultFailureNotice = "Sorry, something went wrong. Please try again."

// Transport opens the chat event stream for one turn.
type Transport interface {
	OpenChatStream(ctx context.Context, req client.ChatRequest) (io.ReadCloser, error)
}

// Config configures a Coordinator.
type Config struct {
	Transport Transport
	// FailureNotice is shown in place of the assistant reply when a turn fails.
	FailureNotice string
	// OnFragment, when set, is called after each fragment reaches the transcript.
	OnFragment func(text string)
}

// Coordinator executes turns and exposes the state of the most recent one.
// It does not queue: callers check CanSubmit before starting a turn.
type Coordinator struct {
	transport  Transport
	notice     string
	onFragment func(string)

	state atomic.Int32
}

// New returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Transport == nil {
		return nil, sberr.New(sberr.CodeConfigValidateInvalidValue, "stream: transport is required")
	}
	notice := cfg.FailureNotice
	if strings.TrimSpace(notice) == "" {
		notice = DefaultFailureNotice
	}
	return &Coordinator{
		transport:  cfg.Transport,
		notice:     notice,
		onFragment: cfg.OnFragment,
	}, nil
}

// State returns the state of the most recent turn.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// CanSubmit reports whether a new turn may start.
func (c *Coordinator) CanSubmit() bool {
	return c.State() != StateStreaming
}

// begin claims the coordinator for a turn. It fails while another turn is
// streaming and otherwise returns the state it replaced.
func (c *Coordinator) begin() (State, bool) {
	for {
		cur := c.state.Load()
		if State(cur) == StateStreaming {
			return StateStreaming, false
		}
		if c.state.CompareAndSwap(cur, int32(StateStreaming)) {
			return State(cur), true
		}
	}
}

// SendTurn appends text as a user message, streams the assistant reply into tr
// and returns once the stream ends. sid is the session the turn belongs to;
// session.None asks the backend to start one.
//
// Blank text is rejected without touching the transcript, and so is a call
// made while another turn streams or while tr already has an open assistant
// message; neither changes State. Any failure after the user message is
// appended replaces the partial reply with the failure notice. If tr is reset while the turn streams, the turn is abandoned and
// nothing more is written.
func (c *Coordinator) SendTurn(ctx context.Context, tr *transcript.Transcript, text string, sid session.ID) TurnOutcome {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnOutcome{
			Status: StatusFailed,
			Err:    sberr.New(sberr.CodeStreamTurnInvalidInput, "stream: message is empty"),
		}
	}

	prev, ok := c.begin()
	if !ok {
		return TurnOutcome{
			Status: StatusFailed,
			Err:    sberr.New(sberr.CodeStreamTurnConflict, "stream: a turn is already streaming"),
		}
	}

	h, err := tr.OpenTurn(text)
	if err != nil {
		c.state.Store(int32(prev))
		return TurnOutcome{Status: StatusFailed, Err: err}
	}

	t := &turn{
		coordinator: c,
		tr:          tr,
		handle:      h,
		sid:         sid,
	}
	return t.run(ctx, text)
}

// turn holds the per-call state of SendTurn.
type turn struct {
	coordinator *Coordinator
	tr          *transcript.Transcript
	handle      transcript.Handle
	sid         session.ID

	captured   session.ID
	text       strings.Builder
	violations []error
}

func (t *turn) run(ctx context.Context, message string) TurnOutcome {
	body, err := t.coordinator.transport.OpenChatStream(ctx, client.ChatRequest{
		Message:   message,
		SessionID: t.sid,
	})
	if err != nil {
		return t.fail(err)
	}
	defer func() { _ = body.Close() }()

	dec := NewDecoder(body)
	for {
		if err := ctx.Err(); err != nil {
			return t.fail(sberr.Wrap(err, sberr.CodeStreamUpstreamFailure, "turn cancelled"))
		}

		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return t.complete()
		}
		if err != nil {
			return t.fail(sberr.Wrap(err, sberr.CodeStreamUpstreamFailure, "reading chat stream"))
		}

		switch ev.Name {
		case EventTextDelta:
			if out, done := t.applyFragment(ev.Data); done {
				return out
			}
		case EventSessionID:
			t.noteSessionID(ev.Data)
		case EventError:
			msg := extractErrorMessage(ev.Data)
			return t.fail(sberr.New(sberr.CodeStreamUpstreamFailure, "backend reported an error: "+msg))
		case EventDone:
			return t.complete()
		default:
			slog.Debug("ignoring unknown chat stream event", "event", ev.Name)
		}
	}
}

// applyFragment writes one text_delta payload. done is true when the turn
// ended because the write was rejected.
func (t *turn) applyFragment(data string) (TurnOutcome, bool) {
	fragment, ok := extractText(data)
	if !ok {
		t.violate(sberr.New(sberr.CodeStreamProtocolViolation, "text_delta payload is not JSON; using raw data"))
	}

	err := t.tr.AppendFragment(t.handle, fragment)
	switch {
	case err == nil:
	case sberr.IsStale(err):
		return t.abandon(err), true
	default:
		return t.fail(err), true
	}

	if fragment == "" {
		return TurnOutcome{}, false
	}
	t.text.WriteString(fragment)
	if t.coordinator.onFragment != nil {
		t.coordinator.onFragment(fragment)
	}
	return TurnOutcome{}, false
}

// noteSessionID records the first session identifier announced for a turn that
// started without one. Later or conflicting announcements never replace it.
func (t *turn) noteSessionID(data string) {
	id, ok := extractSessionID(data)
	if !ok {
		t.violate(sberr.New(sberr.CodeStreamProtocolViolation, "session_id event without a session id"))
		return
	}

	switch {
	case t.sid.IsSet():
		if id != t.sid.String() {
			t.violate(sberr.New(sberr.CodeStreamProtocolViolation,
				"backend announced a different session for an established conversation",
				sberr.FieldSessionID(id),
				sberr.Field("current_session_id", t.sid.String()),
			))
		}
	case !t.captured.IsSet():
		t.captured = session.Established(id)
	case id != t.captured.String():
		t.violate(sberr.New(sberr.CodeStreamProtocolViolation,
			"backend announced a second session id",
			sberr.FieldSessionID(id),
			sberr.Field("first_session_id", t.captured.String()),
		))
	}
}

func (t *turn) complete() TurnOutcome {
	if err := t.tr.CloseAssistantMessage(t.handle); err != nil {
		if sberr.IsStale(err) {
			return t.abandon(err)
		}
		return t.fail(err)
	}

	if !t.sid.IsSet() && !t.captured.IsSet() {
		t.violate(sberr.New(sberr.CodeStreamProtocolViolation, "stream for a new conversation carried no session id"))
	}

	t.coordinator.state.Store(int32(StateCompleted))
	return TurnOutcome{
		Status:       StatusCompleted,
		Text:         t.text.String(),
		NewSessionID: t.captured,
		Violations:   t.violations,
	}
}

func (t *turn) fail(cause error) TurnOutcome {
	if err := t.tr.FailAssistantMessage(t.handle, t.coordinator.notice); err != nil {
		if sberr.IsStale(err) {
			return t.abandon(cause)
		}
		cause = sberr.Join(cause, err)
	}

	slog.Warn("chat turn failed",
		"error", cause,
		"code", sberr.CodeOf(cause),
		"session_id", t.sid.String(),
	)

	t.coordinator.state.Store(int32(StateFailed))
	return TurnOutcome{
		Status:       StatusFailed,
		NewSessionID: t.captured,
		Err:          cause,
		Violations:   t.violations,
	}
}

func (t *turn) abandon(cause error) TurnOutcome {
	slog.Debug("chat turn abandoned after transcript reset", "session_id", t.sid.String())

	t.coordinator.state.Store(int32(StateIdle))
	return TurnOutcome{
		Status:     StatusAbandoned,
		Err:        sberr.Wrap(cause, sberr.CodeStreamTurnAbandoned, "transcript was reset during the turn"),
		Violations: t.violations,
	}
}

func (t *turn) violate(err error) {
	slog.Warn("chat stream protocol violation", "error", err, "session_id", t.sid.String())
	t.violations = append(t.violations, err)
}

// extractText parses a text_delta payload. ok is false when the payload is not
// JSON, in which case the raw data is returned.
func extractText(data string) (string, bool) {
	var delta struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(data), &delta); err != nil {
		return data, false
	}
	return delta.Text, true
}

func extractSessionID(data string) (string, bool) {
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil || strings.TrimSpace(payload.SessionID) == "" {
		return "", false
	}
	return payload.SessionID, true
}

// extractErrorMessage parses an error event payload and returns a human-readable message.
func extractErrorMessage(data string) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		if data == "" {
			return "unknown stream error"
		}
		return data
	}
	if payload.Message != "" {
		return payload.Message
	}
	if payload.Error != "" {
		return payload.Error
	}
	return "unknown stream error"
}
