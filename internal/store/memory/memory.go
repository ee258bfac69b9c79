// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package memory is an in-process SessionStore. Data is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/safebill/assistant/internal/store"
)

func init() {
	store.RegisterBackend("memory", func(*store.StorageConfig) (store.SessionStore, error) {
		return New(), nil
	})
}

var _ store.SessionStore = (*Store)(nil)

// Store keeps sessions and messages in maps guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]store.Session
	messages map[string][]store.Message
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: map[string]store.Session{},
		messages: map[string][]store.Message{},
	}
}

func (s *Store) CreateSession(_ context.Context, session *store.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return store.ErrSessionExists(session.ID)
	}
	cp := *session
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	s.sessions[session.ID] = cp
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound(id)
	}
	return &sess, nil
}

func (s *Store) UpdateSession(_ context.Context, session *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[session.ID]
	if !ok {
		return store.ErrSessionNotFound(session.ID)
	}
	cur.Title = session.Title
	if !session.UpdatedAt.IsZero() {
		cur.UpdatedAt = session.UpdatedAt
	}
	s.sessions[session.ID] = cur
	return nil
}

func (s *Store) ListSessions(_ context.Context, userID string, opts store.ListOpts) ([]*store.Session, error) {
	s.mu.RLock()
	var owned []*store.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			cp := sess
			owned = append(owned, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].UpdatedAt.Equal(owned[j].UpdatedAt) {
			return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
		}
		return owned[i].ID < owned[j].ID
	})

	if opts.Offset >= len(owned) {
		return nil, nil
	}
	owned = owned[opts.Offset:]
	if limit := opts.EffectiveLimit(); len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return store.ErrSessionNotFound(id)
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) AppendMessage(_ context.Context, sessionID string, msg *store.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrSessionNotFound(sessionID)
	}

	cp := *msg
	cp.SessionID = sessionID
	s.messages[sessionID] = append(s.messages[sessionID], cp)

	if cp.CreatedAt.After(sess.UpdatedAt) {
		sess.UpdatedAt = cp.CreatedAt
		s.sessions[sessionID] = sess
	}
	return nil
}

func (s *Store) GetMessages(_ context.Context, sessionID string) ([]*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, store.ErrSessionNotFound(sessionID)
	}

	stored := s.messages[sessionID]
	out := make([]*store.Message, len(stored))
	for i := range stored {
		cp := stored[i]
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
