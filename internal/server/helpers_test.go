// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safebill/assistant/internal/agent"
	"github.com/safebill/assistant/internal/provider"
	"github.com/safebill/assistant/internal/server"
	"github.com/safebill/assistant/internal/store/memory"
	sberr "github.com/safebill/assistant/pkg/errors"
)

const (
	aliceToken = "alice-token"
	bobToken   = "bob-token"
)

func testAuth() server.AuthConfig {
	return server.AuthConfig{Tokens: []server.StaticToken{
		{Token: aliceToken, UserID: "alice"},
		{Token: bobToken, UserID: "bob"},
	}}
}

func newTestServer(t *testing.T, mutate func(*server.Config)) *server.Server {
	t.Helper()

	reg := provider.NewRegistry()
	reg.Register(&provider.Echo{})
	require.NoError(t, reg.SetDefault("echo/echo"))

	loop := agent.NewLoop(agent.LoopConfig{
		Sessions: agent.NewSessionManager(memory.New(), 0),
		Router:   reg,
	})
	t.Cleanup(loop.Close)

	cfg := server.Config{ListenAddr: "127.0.0.1:0", Auth: testAuth()}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := server.New(cfg, server.Deps{Loop: loop, Providers: reg})
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, srv *server.Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

type sseFrame struct {
	Event string
	Data  string
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var (
		frames []sseFrame
		cur    sseFrame
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.Event != "" || cur.Data != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, sc.Err())
	return frames
}

func decodeField(t *testing.T, data, field string) string {
	t.Helper()
	var m map[string]string
	require.NoError(t, json.Unmarshal([]byte(data), &m))
	return m[field]
}

// chat sends one message and returns the new or continued session ID.
func chat(t *testing.T, srv *server.Server, token, sessionID, message string) (string, []sseFrame) {
	t.Helper()
	body := map[string]any{"message": message, "session_id": nil}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	w := doRequest(t, srv, http.MethodPost, server.ChatPath, token, string(raw))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	frames := parseSSE(t, w.Body.String())

	if sessionID == "" {
		require.NotEmpty(t, frames)
		require.Equal(t, "session_id", frames[0].Event)
		sessionID = decodeField(t, frames[0].Data, "session_id")
	}
	return sessionID, frames
}

// emptyRouter never finds a responder.
type emptyRouter struct{}

func (emptyRouter) Route(context.Context) (provider.Provider, string, error) {
	return nil, "", sberr.New(sberr.CodeProviderAllUnavailable, "no provider")
}

func newTestServerWithRouter(t *testing.T, router agent.Router) *server.Server {
	t.Helper()
	loop := agent.NewLoop(agent.LoopConfig{
		Sessions: agent.NewSessionManager(memory.New(), 0),
		Router:   router,
	})
	t.Cleanup(loop.Close)

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", Auth: testAuth()}, server.Deps{Loop: loop})
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func serve(srv *server.Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func newPreflight(path, origin string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, path, nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	return req
}
