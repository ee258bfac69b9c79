// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-playground/validator/v10"

	"github.com/safebill/assistant/internal/agent"
	sberr "github.com/safebill/assistant/pkg/errors"
)

const (
	maxChatBodyBytes  = 64 << 10
	maxMessageRunes   = 16000
	maxSessionIDBytes = 128
)

// ChatRequest is the body of the chat endpoint. A null or absent session_id
// starts a new session.
type ChatRequest struct {
	Message   string  `json:"message" validate:"required,max=16000"`
	SessionID *string `json:"session_id" validate:"omitnil,min=1,max=128,printascii"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (s *Server) registerChatRoute() {
	s.router.Post(ChatPath, s.handleChat)

	// The SSE handler needs the raw ResponseWriter, so it is a chi route and
	// only documented here.
	minLen, maxLen, maxID := 1, maxMessageRunes, maxSessionIDBytes
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "assistant-chat",
		Method:      http.MethodPost,
		Path:        ChatPath,
		Summary:     "Stream an assistant reply via SSE",
		Description: "Sends one message. The reply streams as session_id (new sessions only), text_delta, then done or error events.",
		Tags:        []string{"chat"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"message"},
						Properties: map[string]*huma.Schema{
							"message": {
								Type:        "string",
								MinLength:   &minLen,
								MaxLength:   &maxLen,
								Description: "User message",
							},
							"session_id": {
								Type:        "string",
								MaxLength:   &maxID,
								Nullable:    true,
								Description: "Session to continue; null starts a new one",
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {Schema: &huma.Schema{Type: "string"}},
				},
			},
			"400": {Description: "Invalid request body"},
			"401": {Description: "Missing or invalid bearer token"},
			"404": {Description: "Unknown session"},
			"429": {Description: "Rate limit exceeded"},
		},
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	msg := agent.InboundMessage{
		UserID:  UserFromContext(r.Context()),
		Content: req.Message,
	}
	if req.SessionID != nil {
		msg.SessionID = *req.SessionID
	}

	sw := newSSEWriter(w)
	_, err := s.deps.Loop.ProcessMessage(r.Context(), msg, sw.emit)
	if err == nil {
		return
	}

	if !sw.started {
		status := sberr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("chat request failed", "user_id", msg.UserID, "session_id", msg.SessionID, "error", err)
		}
		writeError(w, status, publicMessage(err, status))
		return
	}
	if !sw.finished && r.Context().Err() == nil {
		// The loop ended without reporting it; the stream must still close with an error.
		_ = sw.emit(agent.Event{Type: agent.EventError, Error: "the assistant could not complete this reply"})
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Message":
		if fe.Tag() == "required" {
			return "message is required"
		}
		return fmt.Sprintf("message must be at most %d characters", maxMessageRunes)
	case "SessionID":
		return "session_id is invalid"
	}
	return "invalid request body"
}

func publicMessage(err error, status int) string {
	switch status {
	case http.StatusNotFound:
		return "session not found"
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusUnauthorized, http.StatusForbidden:
		return "unauthorized"
	}
	return "internal error"
}

// sseWriter writes agent events as SSE frames. Headers are sent with the
// first event so that failures before any output still get a status code.
type sseWriter struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	started  bool
	finished bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	// httptest.ResponseRecorder implements Flusher; anything that does not
	// still gets its frames, just unflushed.
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (sw *sseWriter) emit(ev agent.Event) error {
	var payload any
	switch ev.Type {
	case agent.EventSessionID:
		payload = map[string]string{"session_id": ev.SessionID}
	case agent.EventTextDelta:
		payload = map[string]string{"text": ev.Text}
	case agent.EventError:
		payload = map[string]string{"error": ev.Error}
		sw.finished = true
	case agent.EventDone:
		payload = struct{}{}
		sw.finished = true
	default:
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return sberr.Wrapf(err, sberr.CodeServerInternalFailure, "encoding %s event", ev.Type)
	}

	if !sw.started {
		h := sw.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		sw.w.WriteHeader(http.StatusOK)
		sw.started = true
	}

	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return sberr.Wrapf(err, sberr.CodeServerInternalFailure, "writing %s event", ev.Type)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}
