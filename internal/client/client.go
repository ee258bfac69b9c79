// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package client talks to the assistant backend: the streaming chat endpoint,
// the session list and the session detail endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/safebill/assistant/internal/session"
	"github.com/safebill/assistant/internal/transcript"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// Default endpoint paths of the assistant backend.
const (
	DefaultChatPath     = "/api/v1/assistant/chat"
	DefaultSessionsPath = "/api/v1/assistant/sessions"
	DefaultSessionPath  = "/api/v1/assistant/sessions/{id}"
	DefaultHealthPath   = "/health"
)

// maxErrorBody bounds how much of an error response is kept in the error.
const maxErrorBody = 512

// TokenSource supplies the bearer token sent with every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config holds backend client configuration.
type Config struct {
	BaseURL      string
	ChatPath     string
	SessionsPath string
	// SessionPath is the detail endpoint; "{id}" is replaced by the session ID.
	SessionPath string
	HealthPath  string
	Credentials TokenSource
	HTTPClient  *http.Client
	// Timeout bounds the JSON endpoints. The chat stream is bounded only by
	// the caller's context.
	Timeout   time.Duration
	UserAgent string
}

// Client is a backend client. It is safe for concurrent use.
type Client struct {
	base *url.URL
	cfg  Config
	http *http.Client
}

// ChatRequest is the body of a chat turn.
type ChatRequest struct {
	Message   string     `json:"message"`
	SessionID session.ID `json:"session_id"`
}

// SessionDetail is the stored history of one session.
type SessionDetail struct {
	ID        string               `json:"id" yaml:"id"`
	Title     string               `json:"title" yaml:"title"`
	CreatedAt time.Time            `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time            `json:"updated_at" yaml:"updated_at"`
	Messages  []transcript.Message `json:"messages" yaml:"messages"`
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, sberr.New(sberr.CodeConfigValidateInvalidValue, "client: base URL is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, sberr.Errorf(sberr.CodeConfigValidateInvalidValue, "client: invalid base URL %q", cfg.BaseURL)
	}

	if cfg.ChatPath == "" {
		cfg.ChatPath = DefaultChatPath
	}
	if cfg.SessionsPath == "" {
		cfg.SessionsPath = DefaultSessionsPath
	}
	if cfg.SessionPath == "" {
		cfg.SessionPath = DefaultSessionPath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = DefaultHealthPath
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "safebill-assistant"
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{base: base, cfg: cfg, http: hc}, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// OpenChatStream posts a chat turn and returns the event-stream body. The
// caller must close it.
func (c *Client) OpenChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, sberr.Wrapf(err, sberr.CodeClientRequestFailure, "encoding chat request")
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.cfg.ChatPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		slog.Debug("chat endpoint answered without event-stream content type", "content_type", ct)
	}

	return resp.Body, nil
}

// ListSessions returns the current user's sessions in server order.
func (c *Client) ListSessions(ctx context.Context) ([]session.Summary, error) {
	var sessions []session.Summary
	if err := c.getJSON(ctx, c.cfg.SessionsPath, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession returns the stored messages of one session.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionDetail, error) {
	if id == "" {
		return nil, sberr.New(sberr.CodeDirectorySessionInvalidInput, "client: session id is required")
	}

	path := strings.ReplaceAll(c.cfg.SessionPath, "{id}", url.PathEscape(id))

	var detail SessionDetail
	if err := c.getJSON(ctx, path, &detail); err != nil {
		return nil, sberr.With(err, sberr.FieldSessionID(id))
	}
	return &detail, nil
}

// Ping checks that the backend answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	return c.getJSON(ctx, c.cfg.HealthPath, &body)
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return sberr.Wrap(err, sberr.CodeClientResponseInvalid, "decoding response", sberr.FieldURL(req.URL.String()))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target := c.base.String() + "/" + strings.TrimPrefix(path, "/")

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, sberr.Wrap(err, sberr.CodeClientRequestFailure, "building request", sberr.FieldURL(target))
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	if c.cfg.Credentials != nil {
		token, err := c.cfg.Credentials.Token(ctx)
		if err != nil {
			return nil, sberr.Wrapf(err, sberr.CodeClientCredentialFailure, "obtaining bearer token")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return req, nil
}

// do sends req and maps transport failures and non-2xx statuses to coded
// errors. On success the caller owns resp.Body.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return nil, sberr.Wrap(err, sberr.CodeClientBackendUnreachable, "backend is not reachable", sberr.FieldURL(req.URL.String()))
		}
		return nil, sberr.Wrap(err, sberr.CodeClientRequestFailure, "request failed", sberr.FieldURL(req.URL.String()))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	code := sberr.CodeClientStatusUpstreamFailure
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		code = sberr.CodeClientAuthUnauthorized
	}

	return nil, sberr.New(code,
		"backend returned "+resp.Status+": "+strings.TrimSpace(string(snippet)),
		sberr.FieldStatus(resp.StatusCode),
		sberr.FieldURL(req.URL.String()),
	)
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
