// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/safebill/assistant/internal/client"
	"github.com/safebill/assistant/internal/session"
	"github.com/safebill/assistant/internal/transcript"
	sberr "github.com/safebill/assistant/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type brokenToken struct{}

func (brokenToken) Token(context.Context) (string, error) { return "", errors.New("keyring locked") }

func newTestClient(t *testing.T, srv *httptest.Server, cfg client.Config) *client.Client {
	t.Helper()
	cfg.BaseURL = srv.URL
	c, err := client.New(cfg)
	require.NoError(t, err)
	return c
}

func TestNew_ValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative"} {
		_, err := client.New(client.Config{BaseURL: raw})
		assert.Error(t, err, raw)
	}
}

func TestOpenChatStream(t *testing.T) {
	tests := []struct {
		name       string
		req        client.ChatRequest
		wantBody   string
		wantAuthed bool
		creds      client.TokenSource
	}{
		{
			name:       "new conversation sends null session",
			req:        client.ChatRequest{Message: "hello"},
			wantBody:   `{"message":"hello","session_id":null}`,
			creds:      staticToken("tok-1"),
			wantAuthed: true,
		},
		{
			name:     "established session without credentials",
			req:      client.ChatRequest{Message: "again", SessionID: session.Established("s-1")},
			wantBody: `{"message":"again","session_id":"s-1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, client.DefaultChatPath, r.URL.Path)
				assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
				if tt.wantAuthed {
					assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
				} else {
					assert.Empty(t, r.Header.Get("Authorization"))
				}

				body, err := io.ReadAll(r.Body)
				assert.NoError(t, err)
				assert.JSONEq(t, tt.wantBody, string(body))

				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = io.WriteString(w, "event: done\ndata: {}\n\n")
			}))
			defer srv.Close()

			c := newTestClient(t, srv, client.Config{Credentials: tt.creds})
			body, err := c.OpenChatStream(context.Background(), tt.req)
			require.NoError(t, err)
			defer func() { _ = body.Close() }()

			raw, err := io.ReadAll(body)
			require.NoError(t, err)
			assert.Equal(t, "event: done\ndata: {}\n\n", string(raw))
		})
	}
}

func TestOpenChatStream_StatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode sberr.Code
	}{
		{name: "server error", status: http.StatusBadGateway, wantCode: sberr.CodeClientStatusUpstreamFailure},
		{name: "unauthorized", status: http.StatusUnauthorized, wantCode: sberr.CodeClientAuthUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, wantCode: sberr.CodeClientAuthUnauthorized},
		{name: "bad request", status: http.StatusBadRequest, wantCode: sberr.CodeClientStatusUpstreamFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"detail":"nope"}`, tt.status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv, client.Config{})
			_, err := c.OpenChatStream(context.Background(), client.ChatRequest{Message: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, sberr.CodeOf(err))
			assert.True(t, sberr.IsTransport(err))
			assert.Equal(t, tt.status, sberr.FieldsOf(err)["status"])
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestOpenChatStream_BackendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(t, srv, client.Config{})
	srv.Close()

	_, err := c.OpenChatStream(context.Background(), client.ChatRequest{Message: "x"})
	require.Error(t, err)
	assert.True(t, sberr.IsTransport(err))
	assert.True(t, sberr.HasCode(err, sberr.CodeClientBackendUnreachable), "code %s", sberr.CodeOf(err))
}

func TestOpenChatStream_CredentialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("request must not be sent without credentials")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, client.Config{Credentials: brokenToken{}})
	_, err := c.OpenChatStream(context.Background(), client.ChatRequest{Message: "x"})
	require.Error(t, err)
	assert.True(t, sberr.HasCode(err, sberr.CodeClientCredentialFailure))
}

func TestListSessions(t *testing.T) {
	updated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, client.DefaultSessionsPath, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "b", "title": "Escrow", "updated_at": updated},
			{"id": "a", "title": "Milestones", "updated_at": updated.Add(-time.Hour)},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, client.Config{Credentials: staticToken("tok")})
	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "b", sessions[0].ID)
	assert.Equal(t, "Escrow", sessions[0].Title)
	assert.True(t, updated.Equal(sessions[0].UpdatedAt))
	assert.Equal(t, "a", sessions[1].ID)
}

func TestListSessions_InvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>oops</html>")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, client.Config{})
	_, err := c.ListSessions(context.Background())
	require.Error(t, err)
	assert.True(t, sberr.HasCode(err, sberr.CodeClientResponseInvalid))
	assert.True(t, sberr.IsTransport(err))
}

func TestGetSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/custom/sessions/s%2F1/", r.URL.RawPath)
		_, _ = io.WriteString(w, `{"messages":[{"role":"user","content":"Hi"},{"role":"assistant","content":"Hello"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, client.Config{SessionPath: "/custom/sessions/{id}/"})
	detail, err := c.GetSession(context.Background(), "s/1")
	require.NoError(t, err)
	assert.Equal(t, []transcript.Message{
		{Role: transcript.RoleUser, Content: "Hi"},
		{Role: transcript.RoleAssistant, Content: "Hello"},
	}, detail.Messages)
}

func TestGetSession_EmptyID(t *testing.T) {
	c, err := client.New(client.Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = c.GetSession(context.Background(), "")
	assert.True(t, sberr.IsInvalidInput(err))
}

func TestGetSession_NotFoundCarriesSessionID(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, srv, client.Config{})
	_, err := c.GetSession(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, sberr.CodeClientStatusUpstreamFailure, sberr.CodeOf(err))
	assert.Equal(t, "missing", sberr.FieldsOf(err)["session_id"])
}

func TestTimeoutAppliesToJSONEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, client.Config{Timeout: 50 * time.Millisecond})
	_, err := c.ListSessions(context.Background())
	require.Error(t, err)
	assert.True(t, sberr.IsTransport(err))
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, client.DefaultHealthPath, r.URL.Path)
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, client.Config{})
	require.NoError(t, c.Ping(context.Background()))
}
