// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sberr "github.com/safebill/assistant/pkg/errors"
)

// AnonymousUserID owns every session when authentication is disabled.
const AnonymousUserID = "anonymous"

// minJWTSecretLen matches the config validation for server.auth.jwt_secret.
const minJWTSecretLen = 32

// StaticToken maps one opaque bearer token to a user ID.
type StaticToken struct {
	Token  string
	UserID string
}

// AuthConfig lists the accepted credentials. With neither static tokens nor
// a JWT secret the server runs unauthenticated.
type AuthConfig struct {
	Tokens    []StaticToken
	JWTSecret string
	JWTIssuer string
}

// Authenticator resolves bearer tokens to user IDs.
type Authenticator struct {
	tokens []StaticToken
	secret []byte
	issuer string
}

// NewAuthenticator validates cfg and builds an Authenticator.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	for i, t := range cfg.Tokens {
		if t.Token == "" || t.UserID == "" {
			return nil, sberr.Errorf(sberr.CodeServerConfigInvalid, "auth token %d needs both a token and a user", i)
		}
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < minJWTSecretLen {
		return nil, sberr.Errorf(sberr.CodeServerConfigInvalid, "jwt secret must be at least %d bytes", minJWTSecretLen)
	}

	a := &Authenticator{tokens: cfg.Tokens, issuer: cfg.JWTIssuer}
	if cfg.JWTSecret != "" {
		a.secret = []byte(cfg.JWTSecret)
	}
	return a, nil
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.tokens) > 0 || len(a.secret) > 0
}

// Authenticate returns the user ID a bearer token belongs to.
func (a *Authenticator) Authenticate(token string) (string, error) {
	if !a.Enabled() {
		return AnonymousUserID, nil
	}
	if token == "" {
		return "", sberr.New(sberr.CodeServerAuthUnauthorized, "missing bearer token")
	}

	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 {
			return t.UserID, nil
		}
	}

	if len(a.secret) > 0 && strings.Count(token, ".") == 2 {
		return a.parseJWT(token)
	}
	return "", sberr.New(sberr.CodeServerAuthUnauthorized, "invalid bearer token")
}

func (a *Authenticator) parseJWT(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", sberr.Wrapf(err, sberr.CodeServerAuthUnauthorized, "invalid bearer token")
	}
	if claims.Subject == "" {
		return "", sberr.New(sberr.CodeServerAuthUnauthorized, "token has no subject")
	}
	return claims.Subject, nil
}

// MintToken signs an HS256 token for userID that the server accepts when
// configured with the same secret and issuer.
func MintToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	if len(secret) < minJWTSecretLen {
		return "", sberr.Errorf(sberr.CodeServerConfigInvalid, "jwt secret must be at least %d bytes", minJWTSecretLen)
	}
	if userID == "" {
		return "", sberr.New(sberr.CodeServerRequestInvalid, "user id is required")
	}
	if ttl <= 0 {
		return "", sberr.New(sberr.CodeServerRequestInvalid, "token lifetime must be positive")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", sberr.Wrapf(err, sberr.CodeServerInternalFailure, "signing token")
	}
	return signed, nil
}

type userIDKey struct{}

// UserFromContext returns the authenticated user ID, or "" outside an
// authenticated request.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// ContextWithUser attaches a user ID the way the auth middleware does.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func isPublicPath(path string) bool {
	switch {
	case path == HealthPath:
		return true
	case strings.HasPrefix(path, "/openapi"), path == "/docs", strings.HasPrefix(path, "/schemas/"):
		return true
	}
	return false
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := s.auth.Authenticate(bearerToken(r))
		if err != nil {
			slog.Debug("request rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="assistant"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		slog.Warn("failed to write error response", "error", err)
	}
}
