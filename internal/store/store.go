// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package store persists the reference backend's chat sessions and their
// messages. Backends register themselves with RegisterBackend.
package store

import "context"

// SessionStore manages chat sessions and their message history.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// UpdateSession persists Title and UpdatedAt.
	UpdateSession(ctx context.Context, session *Session) error
	// ListSessions returns the user's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string, opts ListOpts) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage stores msg at the end of the session's history and
	// bumps the session's UpdatedAt to msg.CreatedAt.
	AppendMessage(ctx context.Context, sessionID string, msg *Message) error
	// GetMessages returns the whole history in insertion order.
	GetMessages(ctx context.Context, sessionID string) ([]*Message, error)

	Close() error
}
