// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package store

import "time"

// Session is one conversation owned by a user.
type Session struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRole identifies the author of a stored message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is one stored turn half.
type Message struct {
	ID        string
	SessionID string
	Role      MessageRole
	Content   string
	CreatedAt time.Time
}

// ListOpts pages through ListSessions results.
type ListOpts struct {
	Limit  int
	Offset int
}

// DefaultListLimit applies when ListOpts.Limit is not positive.
const DefaultListLimit = 100

// EffectiveLimit returns Limit, or DefaultListLimit when unset.
func (o ListOpts) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}
