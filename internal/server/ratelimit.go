// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	sberr "github.com/safebill/assistant/pkg/errors"
)

const (
	defaultMaxVisitors  = 10000
	visitorStaleAfter   = 10 * time.Minute
	visitorCleanupEvery = 5 * time.Minute
)

// RateLimitConfig configures per-client rate limiting. Authenticated requests
// are limited per user, the rest per IP.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// MaxVisitors caps how many clients are tracked. Default: 10000.
	MaxVisitors int
}

// Validate checks that the RateLimitConfig is valid and applies defaults.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond < 0 {
		return sberr.Errorf(sberr.CodeServerConfigInvalid,
			"rate limit requests per second must not be negative (got %g)", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return sberr.Errorf(sberr.CodeServerConfigInvalid,
			"rate limit burst must be positive when rate is set (got burst=%d, rate=%g)",
			c.Burst, c.RequestsPerSecond)
	}
	if c.MaxVisitors < 0 {
		return sberr.Errorf(sberr.CodeServerConfigInvalid,
			"rate limit max visitors must not be negative (got %d)", c.MaxVisitors)
	}
	if c.MaxVisitors == 0 {
		c.MaxVisitors = defaultMaxVisitors
	}
	return nil
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type visitorLimiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	visitors map[string]*visitor
}

func newVisitorLimiter(cfg RateLimitConfig) *visitorLimiter {
	return &visitorLimiter{cfg: cfg, visitors: make(map[string]*visitor)}
}

func (l *visitorLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

// cleanup drops stale visitors, then the oldest ones above MaxVisitors.
func (l *visitorLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	type entry struct {
		key      string
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(l.visitors))
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorStaleAfter {
			delete(l.visitors, key)
			continue
		}
		entries = append(entries, entry{key: key, lastSeen: v.lastSeen})
	}

	if l.cfg.MaxVisitors <= 0 || len(entries) <= l.cfg.MaxVisitors {
		return
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return a.lastSeen.Compare(b.lastSeen)
	})
	toEvict := len(entries) - l.cfg.MaxVisitors
	for _, e := range entries[:toEvict] {
		delete(l.visitors, e.key)
	}
	slog.Warn("rate limiter visitor map cap enforced",
		"evicted", toEvict, "max_visitors", l.cfg.MaxVisitors, "remaining", len(l.visitors))
}

func (l *visitorLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// rateLimitMiddleware enforces cfg. It passes everything through when
// cfg.RequestsPerSecond is zero. done stops the cleanup goroutine.
func rateLimitMiddleware(cfg RateLimitConfig, done <-chan struct{}) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	l := newVisitorLimiter(cfg)
	go func() {
		ticker := time.NewTicker(visitorCleanupEvery)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				l.cleanup(now)
			case <-done:
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !l.allow(key) {
				slog.Warn("rate limit exceeded", "path", r.URL.Path, "key_type", keyType(key))
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if user := UserFromContext(r.Context()); user != "" && user != AnonymousUserID {
		return "user:" + user
	}
	// Strip the port so one client's parallel connections share a bucket.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func keyType(key string) string {
	kind, _, _ := strings.Cut(key, ":")
	return kind
}
