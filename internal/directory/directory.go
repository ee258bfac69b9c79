// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package directory keeps the list of the user's past sessions and loads their
// history on demand.
package directory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/safebill/assistant/internal/client"
	"github.com/safebill/assistant/internal/session"
	"github.com/safebill/assistant/internal/transcript"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// Backend is the subset of the backend client the directory needs.
type Backend interface {
	ListSessions(ctx context.Context) ([]session.Summary, error)
	GetSession(ctx context.Context, id string) (*client.SessionDetail, error)
}

// Directory is a replace-on-fetch cache of session summaries. It is safe for
// concurrent use; concurrent refreshes are not coalesced.
type Directory struct {
	backend Backend

	mu       sync.RWMutex
	sessions []session.Summary
}

// New returns an empty directory backed by backend.
func New(backend Backend) *Directory {
	return &Directory{backend: backend}
}

// Refresh fetches the session list and replaces the cache with it. On error
// the cache keeps its previous contents.
func (d *Directory) Refresh(ctx context.Context) ([]session.Summary, error) {
	list, err := d.backend.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	fresh := make([]session.Summary, len(list))
	copy(fresh, list)

	d.mu.Lock()
	d.sessions = fresh
	d.mu.Unlock()

	slog.Debug("session directory refreshed", "count", len(fresh))
	return d.Sessions(), nil
}

// LoadHistory returns the user and assistant messages of session id in server
// order. Messages with any other role are dropped.
func (d *Directory) LoadHistory(ctx context.Context, id string) ([]transcript.Message, error) {
	if id == "" {
		return nil, sberr.New(sberr.CodeDirectorySessionInvalidInput, "directory: session id is required")
	}

	detail, err := d.backend.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	msgs := make([]transcript.Message, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		switch m.Role {
		case transcript.RoleUser, transcript.RoleAssistant:
			msgs = append(msgs, m)
		default:
			slog.Warn("dropping history message with unexpected role",
				"session_id", id, "role", string(m.Role))
		}
	}
	return msgs, nil
}

// Rehydrate loads the history of session id and replaces tr's contents with it.
// tr is left untouched when loading fails.
func (d *Directory) Rehydrate(ctx context.Context, id string, tr *transcript.Transcript) error {
	msgs, err := d.LoadHistory(ctx, id)
	if err != nil {
		return err
	}
	tr.Replace(msgs)
	return nil
}

// NoteNewSession is called once a turn reveals a newly created session. The list
// is refetched rather than patched locally.
func (d *Directory) NoteNewSession(ctx context.Context, id session.ID) error {
	if !id.IsSet() {
		return nil
	}
	_, err := d.Refresh(ctx)
	if err != nil {
		return sberr.With(err, sberr.FieldSessionID(id.String()))
	}
	return nil
}

// Sessions returns a copy of the cached list.
func (d *Directory) Sessions() []session.Summary {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]session.Summary, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// Lookup returns the cached summary of session id.
func (d *Directory) Lookup(id string) (session.Summary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, s := range d.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return session.Summary{}, false
}
