// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the gin middleware chain in front of the
// teach and memory routes: bearer authentication and per-client pacing.
//
// Auth validates the Authorization header through the extensions.AuthProvider
// seam and stores the learner's AuthInfo in the request context. A local
// install runs the NopAuthProvider, which authenticates every request as the
// local learner, so the CLI works with no identity infrastructure. A hosted
// install swaps in a provider backed by the institution's identity system
// (OIDC, Google Classroom, Clever) and gets real learner identities on the
// same routes.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/praxislearn/praxis/pkg/extensions"
)

// =============================================================================
// Auth Context
// =============================================================================

// authInfoKey keys the AuthInfo in the gin context. Namespaced to avoid
// colliding with handler-set values.
const authInfoKey = "praxis_auth_info"

// SetAuthInfo stores the authenticated learner in the request context.
// AuthMiddleware calls this after a successful Validate; request-scoped,
// so a later call overwrites.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the learner AuthMiddleware authenticated, or nil when
// the middleware did not run or stored nothing usable. Handlers use it to
// scope memory reads and writes to the requesting learner.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware authenticates each request against provider.
//
// The token comes from "Authorization: Bearer <token>"; a missing or
// malformed header validates the empty token, which the NopAuthProvider
// accepts as the local learner. Every request is validated; results are
// not cached, so token revocation takes effect on the next request.
// ErrUnauthorized and provider failures both abort with 401 — the body
// distinguishes them, the status does not, so probing clients learn
// nothing about why a token was rejected.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractBearerToken pulls the token out of the Authorization header.
// The scheme is matched case-insensitively per RFC 7235; anything that is
// not a two-part Bearer header yields the empty token.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
