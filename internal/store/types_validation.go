// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package store

import (
	sberr "github.com/safebill/assistant/pkg/errors"
)

// Valid reports whether the role is a known message role.
func (r MessageRole) Valid() bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant:
		return true
	default:
		return false
	}
}

// Validate checks that the Session has all required fields set.
func (s Session) Validate() error {
	if s.ID == "" {
		return sberr.New(sberr.CodeStoreInvalidInput, "session: ID is required")
	}
	if s.UserID == "" {
		return sberr.New(sberr.CodeStoreInvalidInput, "session: UserID is required")
	}
	if s.CreatedAt.IsZero() {
		return sberr.New(sberr.CodeStoreInvalidInput, "session: CreatedAt is required")
	}
	return nil
}

// Validate checks that the Message has all required fields set. Assistant
// messages may be empty when a reply produced no text.
func (m Message) Validate() error {
	if m.ID == "" {
		return sberr.New(sberr.CodeStoreMessageAppendInvalid, "message: ID is required")
	}
	if !m.Role.Valid() {
		return sberr.Errorf(sberr.CodeStoreMessageAppendInvalid, "message: invalid role %q", m.Role)
	}
	if m.Role == MessageRoleUser && m.Content == "" {
		return sberr.New(sberr.CodeStoreMessageAppendInvalid, "message: Content is required for user messages")
	}
	if m.CreatedAt.IsZero() {
		return sberr.New(sberr.CodeStoreMessageAppendInvalid, "message: CreatedAt is required")
	}
	return nil
}
