// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/safebill/assistant/internal/provider"
	"github.com/safebill/assistant/internal/store"
	sberr "github.com/safebill/assistant/pkg/errors"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        SessionsPath,
		Summary:     "List the caller's sessions, most recent first",
		Tags:        []string{"sessions"},
	}, s.handleListSessions)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        SessionsPath + "/{id}",
		Summary:     "Get a session's message history",
		Tags:        []string{"sessions"},
	}, s.handleGetSession)

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          SessionsPath + "/{id}",
		Summary:       "Delete a session",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "assistant-status",
		Method:      http.MethodGet,
		Path:        StatusPath,
		Summary:     "Responder status",
		Tags:        []string{"system"},
	}, s.handleStatus)
}

// --- Request/Response types for huma ---

// SessionSummary is one entry of the session list.
type SessionSummary struct {
	ID        string    `json:"id" doc:"Session ID"`
	Title     string    `json:"title" doc:"Title derived from the first message"`
	UpdatedAt time.Time `json:"updated_at" doc:"Time of the latest message"`
}

// MessageView is one history entry.
type MessageView struct {
	Role    string `json:"role" enum:"user,assistant" doc:"Author"`
	Content string `json:"content" doc:"Message text"`
}

// SessionDetail is a session with its full history.
type SessionDetail struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []MessageView `json:"messages"`
}

type listSessionsInput struct {
	Limit  int `query:"limit" minimum:"0" maximum:"500" doc:"Maximum sessions to return (default 100)"`
	Offset int `query:"offset" minimum:"0" doc:"Sessions to skip"`
}
type listSessionsOutput struct {
	Body []SessionSummary
}

type sessionIDInput struct {
	ID string `path:"id" maxLength:"128"`
}
type getSessionOutput struct {
	Body SessionDetail
}

type statusOutput struct {
	Body struct {
		Status    string                             `json:"status" example:"ok" doc:"ok, or degraded when no responder is available"`
		Providers map[string]provider.ProviderStatus `json:"providers"`
	}
}

// --- Handlers ---

func (s *Server) handleListSessions(ctx context.Context, input *listSessionsInput) (*listSessionsOutput, error) {
	sessions, err := s.deps.Loop.Sessions().List(ctx, UserFromContext(ctx), store.ListOpts{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return nil, toHumaError(err, "listing sessions")
	}

	out := &listSessionsOutput{Body: make([]SessionSummary, 0, len(sessions))}
	for _, sess := range sessions {
		out.Body = append(out.Body, SessionSummary{ID: sess.ID, Title: sess.Title, UpdatedAt: sess.UpdatedAt})
	}
	return out, nil
}

func (s *Server) handleGetSession(ctx context.Context, input *sessionIDInput) (*getSessionOutput, error) {
	userID := UserFromContext(ctx)
	sm := s.deps.Loop.Sessions()

	sess, err := sm.Get(ctx, userID, input.ID)
	if err != nil {
		return nil, toHumaError(err, "getting session")
	}
	msgs, err := sm.Messages(ctx, userID, input.ID)
	if err != nil {
		return nil, toHumaError(err, "getting session messages")
	}

	detail := SessionDetail{
		ID:        sess.ID,
		Title:     sess.Title,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
		Messages:  make([]MessageView, 0, len(msgs)),
	}
	for _, m := range msgs {
		detail.Messages = append(detail.Messages, MessageView{Role: string(m.Role), Content: m.Content})
	}
	return &getSessionOutput{Body: detail}, nil
}

func (s *Server) handleDeleteSession(ctx context.Context, input *sessionIDInput) (*struct{}, error) {
	if err := s.deps.Loop.DeleteSession(ctx, UserFromContext(ctx), input.ID); err != nil {
		return nil, toHumaError(err, "deleting session")
	}
	return nil, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	out := &statusOutput{}
	out.Body.Status = "ok"
	out.Body.Providers = map[string]provider.ProviderStatus{}

	if s.deps.Providers == nil {
		return out, nil
	}
	out.Body.Providers = s.deps.Providers.Statuses(ctx)

	available := false
	for _, st := range out.Body.Providers {
		available = available || st.Available
	}
	if !available {
		out.Body.Status = "degraded"
	}
	return out, nil
}

// toHumaError maps a coded error to an HTTP error without leaking internals.
func toHumaError(err error, op string) error {
	status := sberr.HTTPStatus(err)
	switch status {
	case http.StatusNotFound:
		return huma.Error404NotFound("session not found")
	case http.StatusBadRequest:
		return huma.Error400BadRequest(err.Error())
	}
	slog.Error("request failed", "op", op, "error", err)
	return huma.Error500InternalServerError(op)
}
