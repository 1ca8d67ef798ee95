// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/praxislearn/praxis/pkg/extensions"
	"github.com/praxislearn/praxis/pkg/validation"
	"github.com/praxislearn/praxis/services/tutor/datatypes"
	"github.com/praxislearn/praxis/services/tutor/middleware"
	"github.com/praxislearn/praxis/services/tutor/teaching"
)

// Learner memory endpoints. These are thin adapters over the
// UserMemoryManager: bind, authorize against the extension hook (a learner
// may read only their own memory in hosted deployments; the default
// provider allows everything), call through, map taxonomy errors.

// GetUserMemory returns the learner's full memory snapshot:
// GET /v1/memory/:userId.
func GetUserMemory(memory teaching.UserMemoryManager, opts extensions.ServiceOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		slog.Info("Received request for user memory", "userId", userID)

		if !requireValidUserID(c, userID) {
			return
		}
		if !authorizeMemoryAccess(c, opts, "read", "memory", userID) {
			return
		}

		snapshot, err := memory.GetUserMemory(c.Request.Context(), userID)
		if err != nil {
			status, msg := mapMemoryError(err)
			slog.Error("failed to load user memory", "userId", userID, "error", err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}

// GetMemoryAnalytics returns the derived progress report:
// GET /v1/memory/:userId/analytics.
func GetMemoryAnalytics(memory teaching.UserMemoryManager, opts extensions.ServiceOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		slog.Info("Received request for learning analytics", "userId", userID)

		if !requireValidUserID(c, userID) {
			return
		}
		if !authorizeMemoryAccess(c, opts, "read", "analytics", userID) {
			return
		}

		analytics, err := memory.GetAnalytics(c.Request.Context(), userID)
		if err != nil {
			status, msg := mapMemoryError(err)
			slog.Error("failed to derive learning analytics", "userId", userID, "error", err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, analytics)
	}
}

// RecordFeedback appends a learner rating to a past exchange:
// POST /v1/memory/:userId/feedback with {"interaction_id": "...", "rating": 1-5}.
func RecordFeedback(memory teaching.UserMemoryManager, opts extensions.ServiceOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		if !requireValidUserID(c, userID) {
			return
		}

		var req datatypes.FeedbackRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
			return
		}

		if !authorizeMemoryAccess(c, opts, "update", "interaction", req.InteractionID) {
			return
		}

		if err := memory.RecordFeedback(c.Request.Context(), userID, req.InteractionID, req.Rating); err != nil {
			status, msg := mapMemoryError(err)
			slog.Error("failed to record feedback",
				"userId", userID,
				"interactionId", req.InteractionID,
				"error", err,
			)
			c.JSON(status, gin.H{"error": msg})
			return
		}

		_ = opts.AuditLogger.Log(c.Request.Context(), extensions.AuditEvent{
			EventType:    "memory.feedback",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "update",
			ResourceType: "interaction",
			ResourceID:   req.InteractionID,
			Outcome:      "success",
			Metadata: map[string]any{
				"rating": req.Rating,
			},
		})

		slog.Info("Recorded learner feedback",
			"userId", userID,
			"interactionId", req.InteractionID,
			"rating", req.Rating,
		)
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

// UpdatePreferences applies a partial preference update:
// PUT /v1/memory/:userId/preferences.
func UpdatePreferences(memory teaching.UserMemoryManager, opts extensions.ServiceOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		if !requireValidUserID(c, userID) {
			return
		}

		var req datatypes.PreferencesRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
			return
		}

		if !authorizeMemoryAccess(c, opts, "update", "profile", userID) {
			return
		}

		prefs := datatypes.UserPreferences{
			Format:         req.Format,
			TechnicalLevel: req.TechnicalLevel,
			LearningStyle:  req.LearningStyle,
		}
		if err := memory.UpdatePreferences(c.Request.Context(), userID, prefs); err != nil {
			status, msg := mapMemoryError(err)
			slog.Error("failed to update preferences", "userId", userID, "error", err)
			c.JSON(status, gin.H{"error": msg})
			return
		}

		_ = opts.AuditLogger.Log(c.Request.Context(), extensions.AuditEvent{
			EventType:    "memory.preferences",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "update",
			ResourceType: "profile",
			ResourceID:   userID,
			Outcome:      "success",
		})

		slog.Info("Updated learner preferences", "userId", userID)
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

// requireValidUserID rejects path user IDs that could collide with storage
// keys or escape search filters. Writes the 400 on failure.
func requireValidUserID(c *gin.Context, userID string) bool {
	if err := validation.ValidateUserID(userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return false
	}
	return true
}

// authorizeMemoryAccess runs the authz hook and writes the 403 on denial.
func authorizeMemoryAccess(c *gin.Context, opts extensions.ServiceOptions, action, resourceType, resourceID string) bool {
	authInfo := middleware.GetAuthInfo(c)
	err := opts.AuthzProvider.Authorize(c.Request.Context(), extensions.AuthzRequest{
		User:         authInfo,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	})
	if err == nil {
		return true
	}

	userID := "anonymous"
	if authInfo != nil {
		userID = authInfo.UserID
	}
	_ = opts.AuditLogger.Log(c.Request.Context(), extensions.AuditEvent{
		EventType:    "authz.denied",
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      "denied",
		Metadata: map[string]any{
			"reason": err.Error(),
		},
	})
	c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	return false
}

// mapMemoryError converts memory-manager taxonomy errors to HTTP statuses.
// Invalid-request messages are our own and safe to echo; storage internals
// are not (SEC-005).
func mapMemoryError(err error) (int, string) {
	switch {
	case errors.Is(err, datatypes.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, datatypes.ErrStorage):
		return http.StatusInternalServerError, "memory storage failed"
	default:
		return http.StatusInternalServerError, "An error occurred while processing your request"
	}
}
