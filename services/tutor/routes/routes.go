// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/praxislearn/praxis/pkg/extensions"
	"github.com/praxislearn/praxis/services/policy_engine"
	"github.com/praxislearn/praxis/services/tutor/handlers"
	"github.com/praxislearn/praxis/services/tutor/health"
	"github.com/praxislearn/praxis/services/tutor/middleware"
	"github.com/praxislearn/praxis/services/tutor/teaching"
)

// SetupRoutes registers every tutor endpoint on the router.
//
// /health and /metrics live at the root, outside the authenticated group:
// load balancers and scrapers do not carry bearer tokens. Everything under
// /v1 passes through auth and per-client rate limiting.
func SetupRoutes(router *gin.Engine, teacher teaching.Teacher, memory teaching.UserMemoryManager,
	monitor health.Monitor, policyEngine *policy_engine.PolicyEngine, opts extensions.ServiceOptions) {

	router.GET("/health", handlers.HealthCheck(monitor))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	teach := handlers.NewTeachHandler(teacher, policyEngine, opts)

	// API version 1 group
	v1 := router.Group("/v1",
		middleware.AuthMiddleware(opts.AuthProvider),
		middleware.RateLimitMiddleware(middleware.DefaultRateLimitConfig()),
	)
	{
		v1.POST("/teach", teach.HandleTeach)
		v1.POST("/teach/stream", teach.HandleTeachStream)
		v1.GET("/teach/ws", teach.HandleTeachWS)
		// Learner memory routes
		mem := v1.Group("/memory")
		{
			mem.GET("/:userId", handlers.GetUserMemory(memory, opts))
			mem.GET("/:userId/analytics", handlers.GetMemoryAnalytics(memory, opts))
			mem.POST("/:userId/feedback", handlers.RecordFeedback(memory, opts))
			mem.PUT("/:userId/preferences", handlers.UpdatePreferences(memory, opts))
		}
	}
}
