// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package stream

import "github.com/safebill/assistant/internal/session"

// State is the lifecycle of the most recent turn.
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is how a turn ended.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusAbandoned means the transcript was reset while the turn was
	// streaming; nothing from the turn reached the new transcript.
	StatusAbandoned Status = "abandoned"
)

// TurnOutcome is the result of one SendTurn call.
type TurnOutcome struct {
	Status Status
	// Text is the concatenation of every fragment applied to the transcript.
	Text string
	// NewSessionID is set only when the turn started without a session and
	// the backend announced one.
	NewSessionID session.ID
	// Err is the cause of a failed or abandoned turn.
	Err error
	// Violations lists protocol problems that did not prevent delivery.
	Violations []error
}

// Completed reports whether the answer was delivered.
func (o TurnOutcome) Completed() bool { return o.Status == StatusCompleted }

// Failed reports whether the turn ended without delivering an answer.
func (o TurnOutcome) Failed() bool { return o.Status == StatusFailed }
