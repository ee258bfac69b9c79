// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package server

import "time"

// NewVisitorLimiterForTest exposes the per-client limiter so cleanup can be
// driven without waiting for the ticker.
func NewVisitorLimiterForTest(cfg RateLimitConfig) *visitorLimiter {
	return newVisitorLimiter(cfg)
}

func (l *visitorLimiter) Allow(key string) bool  { return l.allow(key) }
func (l *visitorLimiter) Cleanup(now time.Time) { l.cleanup(now) }
func (l *visitorLimiter) Size() int             { return l.size() }
