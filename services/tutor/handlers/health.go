// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/praxislearn/praxis/services/tutor/health"
)

// HealthCheck reports the tutor's view of the model gateway from the
// monitor's current snapshot. Load balancers get a 503 once the gateway is
// authoritatively down; partial and still-checking states stay 200 so a
// slow first probe does not bounce the service out of rotation.
//
// GET /health -> {"status": "available", "deepSeekConfigured": true, ...}
func HealthCheck(monitor health.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := monitor.Snapshot()

		httpStatus := http.StatusOK
		if snapshot.State == health.StateUnavailable {
			httpStatus = http.StatusServiceUnavailable
		}

		c.JSON(httpStatus, gin.H{
			"status":               string(snapshot.State),
			"deepSeekConfigured":   snapshot.DeepSeekConfigured,
			"consecutive_failures": snapshot.ConsecutiveFailures,
			"message":              snapshot.Message,
		})
	}
}
