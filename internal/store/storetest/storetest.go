// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package storetest is the behavioral test suite every SessionStore backend
// must pass.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/safebill/assistant/internal/store"
	sberr "github.com/safebill/assistant/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) store.SessionStore

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.SessionStore)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"CreateInvalid", testCreateInvalid},
		{"GetMissing", testGetMissing},
		{"UpdateTitle", testUpdateTitle},
		{"UpdateMissing", testUpdateMissing},
		{"ListOrderAndOwnership", testListOrderAndOwnership},
		{"ListPaging", testListPaging},
		{"MessagesKeepInsertionOrder", testMessagesKeepInsertionOrder},
		{"AppendBumpsUpdatedAt", testAppendBumpsUpdatedAt},
		{"AppendToMissingSession", testAppendToMissingSession},
		{"AppendInvalid", testAppendInvalid},
		{"DeleteRemovesMessages", testDeleteRemovesMessages},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func newSession(id, user string, at time.Time) *store.Session {
	return &store.Session{ID: id, UserID: user, Title: "title " + id, CreatedAt: at, UpdatedAt: at}
}

func newMessage(id string, role store.MessageRole, content string, at time.Time) *store.Message {
	return &store.Message{ID: id, Role: role, Content: content, CreatedAt: at}
}

func testCreateAndGet(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", "alice", base)))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "title s1", got.Title)
	assert.True(t, base.Equal(got.CreatedAt))
	assert.True(t, base.Equal(got.UpdatedAt))
}

func testCreateDuplicate(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession("dup", "alice", base)))

	err := s.CreateSession(ctx, newSession("dup", "bob", base))
	require.Error(t, err)
	assert.True(t, sberr.IsConflict(err), "code %s", sberr.CodeOf(err))
}

func testCreateInvalid(t *testing.T, s store.SessionStore) {
	err := s.CreateSession(context.Background(), &store.Session{ID: "x", CreatedAt: base})
	require.Error(t, err)
	assert.True(t, sberr.IsInvalidInput(err))
}

func testGetMissing(t *testing.T, s store.SessionStore) {
	_, err := s.GetSession(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, sberr.IsNotFound(err))
}

func testUpdateTitle(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", "alice", base)))

	later := base.Add(time.Minute)
	require.NoError(t, s.UpdateSession(ctx, &store.Session{ID: "s1", Title: "Escrow question", UpdatedAt: later}))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Escrow question", got.Title)
	assert.True(t, later.Equal(got.UpdatedAt))
	assert.Equal(t, "alice", got.UserID)
}

func testUpdateMissing(t *testing.T, s store.SessionStore) {
	err := s.UpdateSession(context.Background(), &store.Session{ID: "ghost", Title: "t", UpdatedAt: base})
	assert.True(t, sberr.IsNotFound(err))
}

func testListOrderAndOwnership(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession("old", "alice", base)))
	require.NoError(t, s.CreateSession(ctx, newSession("mid", "alice", base.Add(time.Hour))))
	require.NoError(t, s.CreateSession(ctx, newSession("new", "alice", base.Add(2*time.Hour))))
	require.NoError(t, s.CreateSession(ctx, newSession("other", "bob", base.Add(3*time.Hour))))

	// Activity in the oldest session moves it to the front.
	require.NoError(t, s.AppendMessage(ctx, "old", newMessage("m1", store.MessageRoleUser, "hi", base.Add(4*time.Hour))))

	list, err := s.ListSessions(ctx, "alice", store.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "new", "mid"}, ids(list))

	list, err = s.ListSessions(ctx, "carol", store.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testListPaging(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, s.CreateSession(ctx, newSession(fmt.Sprintf("s%d", i), "alice", base.Add(time.Duration(i)*time.Minute))))
	}

	page, err := s.ListSessions(ctx, "alice", store.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3", "s2"}, ids(page))

	page, err = s.ListSessions(ctx, "alice", store.ListOpts{Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func testMessagesKeepInsertionOrder(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", "alice", base)))

	// Identical timestamps must not reorder the history.
	msgs := []*store.Message{
		newMessage("m1", store.MessageRoleUser, "What is escrow?", base),
		newMessage("m2", store.MessageRoleAssistant, "Funds held until delivery.", base),
		newMessage("m3", store.MessageRoleUser, "And milestones?", base),
		newMessage("m4", store.MessageRoleAssistant, "", base),
	}
	for _, m := range msgs {
		require.NoError(t, s.AppendMessage(ctx, "s1", m))
	}

	got, err := s.GetMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, m := range got {
		assert.Equal(t, msgs[i].ID, m.ID)
		assert.Equal(t, msgs[i].Role, m.Role)
		assert.Equal(t, msgs[i].Content, m.Content)
		assert.Equal(t, "s1", m.SessionID)
	}
}

func testAppendBumpsUpdatedAt(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", "alice", base)))

	at := base.Add(10 * time.Minute)
	require.NoError(t, s.AppendMessage(ctx, "s1", newMessage("m1", store.MessageRoleUser, "hi", at)))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, at.Equal(got.UpdatedAt), "updated_at %s", got.UpdatedAt)
}

func testAppendToMissingSession(t *testing.T, s store.SessionStore) {
	err := s.AppendMessage(context.Background(), "ghost", newMessage("m1", store.MessageRoleUser, "hi", base))
	assert.True(t, sberr.IsNotFound(err))

	_, err = s.GetMessages(context.Background(), "ghost")
	assert.True(t, sberr.IsNotFound(err))
}

func testAppendInvalid(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", "alice", base)))

	tests := []*store.Message{
		{Role: store.MessageRoleUser, Content: "no id", CreatedAt: base},
		{ID: "m1", Role: "system", Content: "bad role", CreatedAt: base},
		{ID: "m2", Role: store.MessageRoleUser, CreatedAt: base},
	}
	for _, m := range tests {
		err := s.AppendMessage(ctx, "s1", m)
		assert.True(t, sberr.IsInvalidInput(err), "message %+v: %v", m, err)
	}

	got, err := s.GetMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testDeleteRemovesMessages(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", "alice", base)))
	require.NoError(t, s.AppendMessage(ctx, "s1", newMessage("m1", store.MessageRoleUser, "hi", base)))

	require.NoError(t, s.DeleteSession(ctx, "s1"))

	_, err := s.GetSession(ctx, "s1")
	assert.True(t, sberr.IsNotFound(err))
	_, err = s.GetMessages(ctx, "s1")
	assert.True(t, sberr.IsNotFound(err))
	assert.True(t, sberr.IsNotFound(s.DeleteSession(ctx, "s1")))
}

func ids(list []*store.Session) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.ID)
	}
	return out
}
