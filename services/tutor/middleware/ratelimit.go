// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// =============================================================================
// Configuration
// =============================================================================

// RateLimitConfig controls per-client request pacing.
//
// Each client gets an independent token bucket. A client is identified by
// the authenticated user ID when auth middleware ran earlier in the chain,
// falling back to the remote IP otherwise.
type RateLimitConfig struct {
	// RequestsPerSecond is the steady-state rate allowed per client.
	RequestsPerSecond float64

	// Burst is the bucket capacity. Allows short spikes above the
	// steady-state rate.
	Burst int

	// ClientTTL is how long an idle client's bucket is retained before
	// being swept. Prevents the limiter map from growing without bound.
	ClientTTL time.Duration
}

// DefaultRateLimitConfig returns pacing suitable for interactive tutoring.
//
// Teach requests are LLM-bound and expensive; 5 req/s with a burst of 10
// is generous for a single learner and still protects the gateway.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 5,
		Burst:             10,
		ClientTTL:         10 * time.Minute,
	}
}

// normalize fills zero or negative values with defaults.
func (c RateLimitConfig) normalize() RateLimitConfig {
	defaults := DefaultRateLimitConfig()
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = defaults.Burst
	}
	if c.ClientTTL <= 0 {
		c.ClientTTL = defaults.ClientTTL
	}
	return c
}

// =============================================================================
// Per-Client Limiter Registry
// =============================================================================

// clientLimiter pairs a token bucket with its last use.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters maps client keys to their token buckets.
//
// Stale entries are swept opportunistically on acquisition, at most once
// per ClientTTL. There is no background goroutine to manage.
type clientLimiters struct {
	mu        sync.Mutex
	config    RateLimitConfig
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

func newClientLimiters(config RateLimitConfig) *clientLimiters {
	return &clientLimiters{
		config:    config,
		clients:   make(map[string]*clientLimiter),
		lastSweep: time.Now(),
	}
}

// get returns the limiter for a client key, creating it on first use.
func (l *clientLimiters) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) >= l.config.ClientTTL {
		l.sweepLocked(now)
	}

	entry, ok := l.clients[key]
	if !ok {
		entry = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst),
		}
		l.clients[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// sweepLocked drops entries idle longer than ClientTTL. Caller holds mu.
func (l *clientLimiters) sweepLocked(now time.Time) {
	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) >= l.config.ClientTTL {
			delete(l.clients, key)
		}
	}
	l.lastSweep = now
}

// size reports the number of tracked clients. Used by tests.
func (l *clientLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// =============================================================================
// Rate Limit Middleware
// =============================================================================

// RateLimitMiddleware creates a Gin middleware that paces requests per client.
//
// # Description
//
// Applies a token-bucket limit to each client independently. Requests that
// exceed the bucket are rejected with 429 and a Retry-After header rather
// than queued; a tutoring client should back off, not pile up.
//
// Place this AFTER AuthMiddleware so authenticated clients are keyed by
// user ID. Without auth info the key falls back to the remote IP, which
// collapses clients behind a shared NAT into one bucket.
//
// # Inputs
//
//   - config: Pacing parameters. Zero values are replaced with defaults.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.AuthMiddleware(provider))
//	v1.Use(middleware.RateLimitMiddleware(middleware.DefaultRateLimitConfig()))
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RateLimitMiddleware(config RateLimitConfig) gin.HandlerFunc {
	limiters := newClientLimiters(config.normalize())

	return func(c *gin.Context) {
		key := clientKey(c)
		if !limiters.get(key).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// clientKey identifies the requester for rate limiting purposes.
func clientKey(c *gin.Context) string {
	if info := GetAuthInfo(c); info != nil && info.UserID != "" {
		return "user:" + info.UserID
	}
	return "ip:" + c.ClientIP()
}
