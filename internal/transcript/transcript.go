// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package transcript holds the ordered message list of the conversation that is
// currently on screen and the handle-based API used to stream an assistant
// reply into it.
package transcript

import (
	"log/slog"
	"strings"
	"sync"

	sberr "github.com/safebill/assistant/pkg/errors"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a transcript.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Handle refers to the assistant message opened by OpenAssistantMessage.
// The zero Handle never refers to a message.
type Handle struct {
	gen   uint64
	index int
}

// Option configures a Transcript.
type Option func(*Transcript)

// WithStrict makes handle contract violations panic instead of returning an
// error. Writes through handles invalidated by Reset are still dropped quietly.
func WithStrict() Option {
	return func(t *Transcript) { t.strict = true }
}

// Transcript is an append-only, ordered list of messages with at most one open
// assistant message. It is safe for concurrent use.
type Transcript struct {
	mu       sync.Mutex
	messages []Message
	open     int // index of the open message, -1 when none
	buf      strings.Builder
	gen      uint64
	revision uint64
	strict   bool
}

// New returns an empty transcript.
func New(opts ...Option) *Transcript {
	t := &Transcript{open: -1, gen: 1}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AppendUserMessage appends a complete user message. Callers reject blank
// input before getting here.
func (t *Transcript) AppendUserMessage(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = append(t.messages, Message{Role: RoleUser, Content: text})
	t.revision++
}

// OpenAssistantMessage appends an empty assistant message and returns the
// handle through which its content is streamed. Only one assistant message may
// be open at a time.
func (t *Transcript) OpenAssistantMessage() (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkNoneOpen(); err != nil {
		return Handle{}, err
	}
	return t.openLocked(), nil
}

// OpenTurn appends a user message followed by an open assistant message in one
// step. When an assistant message is already open nothing is appended.
func (t *Transcript) OpenTurn(userText string) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkNoneOpen(); err != nil {
		return Handle{}, err
	}
	t.messages = append(t.messages, Message{Role: RoleUser, Content: userText})
	return t.openLocked(), nil
}

func (t *Transcript) checkNoneOpen() error {
	if t.open < 0 {
		return nil
	}
	return t.violation(sberr.New(sberr.CodeTranscriptOpenInvalidHandle,
		"transcript: an assistant message is already open",
		sberr.Field("open_index", t.open),
	))
}

func (t *Transcript) openLocked() Handle {
	t.messages = append(t.messages, Message{Role: RoleAssistant})
	t.open = len(t.messages) - 1
	t.buf.Reset()
	t.revision++

	return Handle{gen: t.gen, index: t.open}
}

// AppendFragment concatenates text onto the message behind h. Empty fragments
// are accepted and change nothing. A handle invalidated by Reset is reported
// with a stale error and the fragment is dropped.
func (t *Transcript) AppendFragment(h Handle, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check(h, sberr.CodeTranscriptAppendStale, sberr.CodeTranscriptAppendInvalidHandle, "append"); err != nil {
		return err
	}

	if text == "" {
		return nil
	}
	t.buf.WriteString(text)
	t.revision++
	return nil
}

// CloseAssistantMessage freezes the message behind h. Further appends through
// h fail with an invalid handle error.
func (t *Transcript) CloseAssistantMessage(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check(h, sberr.CodeTranscriptCloseStale, sberr.CodeTranscriptCloseInvalidHandle, "close"); err != nil {
		return err
	}

	t.closeOpen(t.buf.String())
	return nil
}

// FailAssistantMessage replaces whatever was streamed into the message behind
// h with notice and closes it.
func (t *Transcript) FailAssistantMessage(h Handle, notice string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check(h, sberr.CodeTranscriptCloseStale, sberr.CodeTranscriptCloseInvalidHandle, "fail"); err != nil {
		return err
	}

	t.closeOpen(notice)
	return nil
}

// Reset removes every message and invalidates all outstanding handles.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetLocked()
}

// Replace resets the transcript and loads msgs in the given order. No message
// is left open.
func (t *Transcript) Replace(msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetLocked()
	t.messages = append(t.messages, msgs...)
}

// Messages returns a copy of the transcript, including the content streamed so
// far into the open message.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	if t.open >= 0 {
		out[t.open].Content = t.buf.String()
	}
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// HasOpen reports whether an assistant message is currently open.
func (t *Transcript) HasOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open >= 0
}

// Revision increases with every visible change. Renderers compare it to skip
// redundant redraws.
func (t *Transcript) Revision() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revision
}

func (t *Transcript) resetLocked() {
	t.messages = nil
	t.open = -1
	t.buf.Reset()
	t.gen++
	t.revision++
}

func (t *Transcript) closeOpen(content string) {
	t.messages[t.open].Content = content
	t.open = -1
	t.buf.Reset()
	t.revision++
}

// check validates h against the current generation and open message. The
// caller holds t.mu.
func (t *Transcript) check(h Handle, staleCode, invalidCode sberr.Code, op string) error {
	if h.gen != 0 && h.gen != t.gen {
		slog.Debug("transcript: dropping write through stale handle", "op", op, "index", h.index)
		return sberr.New(staleCode, "transcript: handle invalidated by reset", sberr.Field("op", op))
	}
	if h.gen == 0 || h.index != t.open {
		return t.violation(sberr.New(invalidCode, "transcript: handle does not refer to the open message",
			sberr.Field("op", op),
			sberr.Field("index", h.index),
		))
	}
	return nil
}

func (t *Transcript) violation(err error) error {
	if t.strict {
		panic(err)
	}
	return err
}
