// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package session holds the identifiers and summaries the assistant uses to
// refer to backend-persisted conversations.
package session

import (
	"bytes"
	"encoding/json"
	"time"
)

// ID identifies a backend session. The zero value means the conversation has
// not been established yet; an established ID is never empty.
type ID struct {
	value string
}

// None is the unestablished session.
var None = ID{}

// Established returns the ID for a backend-assigned identifier. An empty
// string yields None.
func Established(value string) ID {
	return ID{value: value}
}

// IsSet reports whether the session has been established.
func (id ID) IsSet() bool { return id.value != "" }

// String returns the raw identifier, or "" for None.
func (id ID) String() string { return id.value }

// MarshalJSON encodes None as null.
func (id ID) MarshalJSON() ([]byte, error) {
	if !id.IsSet() {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON accepts a string or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*id = None
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*id = Established(s)
	return nil
}

// State is the lifecycle of a conversation as seen by the consumer.
type State string

const (
	StateNew         State = "new"
	StateEstablished State = "established"
)

// StateOf derives the conversation state from its session ID.
func StateOf(id ID) State {
	if id.IsSet() {
		return StateEstablished
	}
	return StateNew
}

// Summary is one entry of the user's session list.
type Summary struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}
