// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package conversation ties the transcript, the turn coordinator and the
// session directory together behind the operations a chat front end needs.
package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/safebill/assistant/internal/directory"
	"github.com/safebill/assistant/internal/session"
	"github.com/safebill/assistant/internal/stream"
	"github.com/safebill/assistant/internal/transcript"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// Controller owns the active conversation. It enforces one turn at a time and
// discards a running turn when the user starts over or switches session.
type Controller struct {
	coord *stream.Coordinator
	dir   *directory.Directory
	tr    *transcript.Transcript

	mu     sync.Mutex
	sid    session.ID
	epoch  uint64
	busy   bool
	cancel context.CancelFunc
}

// New returns a Controller for a fresh conversation.
func New(coord *stream.Coordinator, dir *directory.Directory, tr *transcript.Transcript) *Controller {
	return &Controller{coord: coord, dir: dir, tr: tr}
}

// Transcript returns the transcript the controller writes into.
func (c *Controller) Transcript() *transcript.Transcript {
	return c.tr
}

// Directory returns the session directory.
func (c *Controller) Directory() *directory.Directory {
	return c.dir
}

// Session returns the identifier of the active conversation, unset until the
// backend assigns one.
func (c *Controller) Session() session.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// CanSubmit reports whether Submit would start a turn now.
func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.busy && c.coord.CanSubmit()
}

// Submit runs one turn and blocks until it ends. A turn started while another
// one is running fails with a conflict error and leaves the transcript alone.
// When the backend creates a session for this conversation, it becomes the
// active session and the directory is refreshed. This holds for a failed turn
// too: the backend has already stored the session and the user's message.
func (c *Controller) Submit(ctx context.Context, text string) stream.TurnOutcome {
	c.mu.Lock()
	if c.busy || !c.coord.CanSubmit() {
		c.mu.Unlock()
		return stream.TurnOutcome{
			Status: stream.StatusFailed,
			Err:    sberr.New(sberr.CodeConversationTurnConflict, "conversation: a reply is still streaming"),
		}
	}
	turnCtx, cancel := context.WithCancel(ctx)
	c.busy = true
	c.cancel = cancel
	epoch := c.epoch
	sid := c.sid
	c.mu.Unlock()

	out := c.coord.SendTurn(turnCtx, c.tr, text, sid)

	c.mu.Lock()
	c.busy = false
	c.cancel = nil
	adopted := session.None
	if epoch == c.epoch && out.NewSessionID.IsSet() && !c.sid.IsSet() {
		c.sid = out.NewSessionID
		adopted = out.NewSessionID
	}
	c.mu.Unlock()
	cancel()

	if adopted.IsSet() {
		slog.Info("conversation started new session", "session_id", adopted.String())
		if err := c.dir.NoteNewSession(ctx, adopted); err != nil {
			slog.Warn("refreshing session list after new session", "error", err)
		}
	}

	return out
}

// NewConversation clears the transcript and forgets the active session. A
// running turn is abandoned.
func (c *Controller) NewConversation() {
	c.mu.Lock()
	c.epoch++
	c.sid = session.None
	cancel := c.cancel
	c.mu.Unlock()

	c.tr.Reset()
	if cancel != nil {
		cancel()
	}
}

// OpenSession loads the history of session id and makes it the active
// conversation. On error the current conversation is kept.
func (c *Controller) OpenSession(ctx context.Context, id string) error {
	msgs, err := c.dir.LoadHistory(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.epoch++
	c.sid = session.Established(id)
	cancel := c.cancel
	c.mu.Unlock()

	c.tr.Replace(msgs)
	if cancel != nil {
		cancel()
	}

	slog.Debug("conversation switched session", "session_id", id, "messages", len(msgs))
	return nil
}

// Refresh reloads the session list.
func (c *Controller) Refresh(ctx context.Context) ([]session.Summary, error) {
	return c.dir.Refresh(ctx)
}
