// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package agent

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/safebill/assistant/internal/store"
)

// DefaultTitleLength is used when SessionManager is built without a length.
const DefaultTitleLength = 60

// SessionManager applies ownership rules on top of a store.SessionStore.
type SessionManager struct {
	ss          store.SessionStore
	titleLength int
	now         func() time.Time
}

// NewSessionManager returns a SessionManager backed by ss. titleLength caps
// the title derived from a session's first message.
func NewSessionManager(ss store.SessionStore, titleLength int) *SessionManager {
	if titleLength <= 0 {
		titleLength = DefaultTitleLength
	}
	return &SessionManager{ss: ss, titleLength: titleLength, now: time.Now}
}

// Create starts a session for userID titled after its first message.
func (m *SessionManager) Create(ctx context.Context, userID, firstMessage string) (*store.Session, error) {
	now := m.now()
	session := &store.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     Title(firstMessage, m.titleLength),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.ss.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns the session when userID owns it. Another user's session is
// reported as not found so that IDs cannot be probed.
func (m *SessionManager) Get(ctx context.Context, userID, id string) (*store.Session, error) {
	session, err := m.ss.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, store.ErrSessionNotFound(id)
	}
	return session, nil
}

// List returns the user's sessions, most recently active first.
func (m *SessionManager) List(ctx context.Context, userID string, opts store.ListOpts) ([]*store.Session, error) {
	return m.ss.ListSessions(ctx, userID, opts)
}

// Messages returns the history of a session userID owns.
func (m *SessionManager) Messages(ctx context.Context, userID, id string) ([]*store.Message, error) {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return m.ss.GetMessages(ctx, id)
}

// Delete removes a session userID owns.
func (m *SessionManager) Delete(ctx context.Context, userID, id string) error {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return err
	}
	return m.ss.DeleteSession(ctx, id)
}

// Append stores one message in the session.
func (m *SessionManager) Append(ctx context.Context, sessionID string, role store.MessageRole, content string) (*store.Message, error) {
	msg := &store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: m.now(),
	}
	if err := m.ss.AppendMessage(ctx, sessionID, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Title derives a one-line session title of at most max runes, cutting at a
// word boundary when one is close enough.
func Title(text string, max int) string {
	title := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(title) <= max {
		return title
	}
	if max <= 1 {
		return string([]rune(title)[:max])
	}

	runes := []rune(title)[:max-1]
	cut := string(runes)
	if i := strings.LastIndex(cut, " "); i > len(cut)/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

