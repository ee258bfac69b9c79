// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package server is the reference assistant backend: the chat SSE endpoint
// and the session routes the terminal client talks to.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/safebill/assistant/internal/agent"
	"github.com/safebill/assistant/internal/provider"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// Route paths served by the backend.
const (
	ChatPath     = "/api/v1/assistant/chat"
	SessionsPath = "/api/v1/assistant/sessions"
	StatusPath   = "/api/v1/assistant/status"
	HealthPath   = "/health"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Version      string
}

// StatusReporter reports responder health. *provider.Registry implements it.
type StatusReporter interface {
	Statuses(ctx context.Context) map[string]provider.ProviderStatus
}

// Deps are the services the routes call into.
type Deps struct {
	Loop      *agent.Loop
	Providers StatusReporter
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router chi.Router
	api    huma.API
	cfg    Config
	deps   Deps
	auth   *Authenticator

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Server with chi router, huma API, health endpoint, CORS,
// authentication and rate limiting.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, sberr.New(sberr.CodeServerConfigInvalid, "listen address is required")
	}
	if err := cfg.RateLimit.Validate(); err != nil {
		return nil, err
	}
	if deps.Loop == nil {
		return nil, sberr.New(sberr.CodeServerConfigInvalid, "agent loop is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Long enough for a slow model to finish streaming a reply.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if !auth.Enabled() {
		slog.Warn("server authentication disabled: every request runs as the anonymous user",
			"user_id", AnonymousUserID)
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		auth: auth,
		done: make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(s.authMiddleware)
	r.Use(rateLimitMiddleware(cfg.RateLimit, s.done))

	humaConfig := huma.DefaultConfig("Safe Bill Assistant", cfg.Version)
	humaConfig.Info.Description = "Reference backend for the Safe Bill assistant chat client"
	api := humachi.New(r, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        HealthPath,
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthBody{Status: "ok"}}, nil
	})

	s.router = r
	s.api = api
	s.registerChatRoute()
	s.registerRoutes()

	return s, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API, used to generate the OpenAPI document.
func (s *Server) API() huma.API {
	return s.api
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return sberr.Wrapf(err, sberr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	slog.Info("server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return sberr.Wrapf(err, sberr.CodeServerStartFailure, "serving on %s", ln.Addr())
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return sberr.Wrapf(err, sberr.CodeServerShutdownFailure, "shutting down")
	}
	return <-errCh
}

// Close stops background work. It is safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
