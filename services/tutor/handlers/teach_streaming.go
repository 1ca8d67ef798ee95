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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/praxislearn/praxis/pkg/extensions"
	"github.com/praxislearn/praxis/services/llm"
	"github.com/praxislearn/praxis/services/tutor/datatypes"
	"github.com/praxislearn/praxis/services/tutor/middleware"
	"github.com/praxislearn/praxis/services/tutor/observability"
	"github.com/praxislearn/praxis/services/tutor/teaching"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
	heartbeatInterval = 15 * time.Second
)

// =============================================================================
// Streaming Handler
// =============================================================================

// HandleTeachStream processes a teach exchange with SSE streaming.
//
// # Description
//
// Handles POST /v1/teach/stream requests. The flow is:
//  1. Parse and validate request body
//  2. Scan the student's message for policy violations (outbound protection)
//  3. Set SSE headers and create the hash-chained writer
//  4. Emit status event
//  5. Run the teaching pipeline, relaying tokens as they generate
//  6. Emit metadata event (detected concepts, followups, strategy)
//  7. Emit done event with the session ID
//
// # Security
//
//   - Outbound (student -> LLM): Scanned and blocked if it contains
//     sensitive data
//   - Inbound (LLM -> student): Relayed, captured for async audit review
//
// # Inputs
//
//   - c: Gin context containing the HTTP request
//
// Request Body (datatypes.TeachRequest): same shape as POST /v1/teach.
//
// # Outputs
//
// SSE Events:
//   - event: status, data: {"type":"status","message":"Thinking about your question..."}
//   - event: token, data: {"type":"token","content":"What"}
//   - event: thinking, data: {"type":"thinking","content":"..."}
//   - event: metadata, data: {"type":"metadata","metadata":{...}}
//   - event: done, data: {"type":"done","session_id":"..."}
//   - event: error, data: {"type":"error","error":"..."}
//
// HTTP Status (before streaming starts):
//   - 400 Bad Request: Invalid request body or validation failure
//   - 403 Forbidden: Policy violation, filter block, or authz denial
//   - 500 Internal Server Error: SSE setup failure
//
// # Examples
//
// Request:
//
//	POST /v1/teach/stream
//	Accept: text/event-stream
//	{"message": "Why does my binary search loop forever?"}
//
// Response (SSE stream):
//
//	event: status
//	data: {"type":"status","message":"Thinking about your question...","id":"...","created_at":...}
//
//	event: token
//	data: {"type":"token","content":"What","id":"...","created_at":...}
//
//	event: metadata
//	data: {"type":"metadata","metadata":{"detected_concepts":["binary search"],...}}
//
//	event: done
//	data: {"type":"done","session_id":"...","id":"...","created_at":...}
//
// # Limitations
//
//   - Errors during streaming are sent as events, not HTTP errors
//
// # Assumptions
//
//   - Client supports SSE and the ResponseWriter supports flushing
//
// # Security References
//
//   - SEC-003: Message size limits enforced via validation
//   - SEC-005: Internal errors not exposed to client
func (h *teachHandler) HandleTeachStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointTeachStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleTeachStream")
	defer span.End()

	// Track active stream (for metrics)
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			duration := time.Since(startTime).Seconds()
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, duration, success)
		}
	}()

	// Step 0: Get authenticated user from context.
	authInfo := middleware.GetAuthInfo(c)
	userID := "anonymous"
	if authInfo != nil {
		userID = authInfo.UserID
	}
	span.SetAttributes(attribute.String("user.id", userID))

	// Step 0.5: Read raw body for hosted request capture.
	rawBody, bodyErr := io.ReadAll(c.Request.Body)
	if bodyErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request"})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(rawBody))

	// Step 1: Parse request body.
	var req datatypes.TeachRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse streaming teach request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.UserID == "" && authInfo != nil {
		req.UserID = authInfo.UserID
	}
	req.EnsureDefaults()

	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("session.id", req.SessionID),
		attribute.Int("request.history_len", len(req.PreviousMessages)),
	)

	// Step 2: Validate request.
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Streaming teach request validation failed",
			"error", err,
			"requestId", req.RequestID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	// Step 2.5: Authorization check.
	if !h.authorizeTeach(ctx, c, span, authInfo, userID, &req, "stream") {
		return
	}

	// Step 2.6: Capture request for hosted audit.
	auditID, _ := h.opts.RequestAuditor.CaptureRequest(ctx, &extensions.AuditableRequest{
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		Headers:   extractHeaders(c),
		Body:      rawBody,
		UserID:    userID,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Timestamp: startTime,
	})

	// Step 3: Scan and filter the student's message (OUTBOUND protection).
	if !h.scanAndFilterMessage(ctx, c, span, endpoint, userID, &req, "stream") {
		return
	}

	// Step 4: Set SSE headers and create writer.
	SetSSEHeaders(c.Writer)
	sseWriter, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer",
			"error", err,
			"requestId", req.RequestID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	// Step 5: Emit status event.
	if err := sseWriter.WriteStatus("Thinking about your question..."); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write status event",
			"error", err,
			"requestId", req.RequestID,
		)
		return
	}

	// Step 6: Start heartbeat goroutine to prevent connection timeouts.
	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, sseWriter, endpoint, heartbeatDone)

	// Step 6.5: Create accumulator for hosted response capture. The
	// pipeline persists the exchange itself; this copy exists only so the
	// full answer can be attached to the captured response.
	accumulator, accErr := teaching.NewTokenAccumulator()
	if accErr != nil {
		slog.Debug("failed to create token accumulator for capture", "error", accErr)
	}
	defer func() {
		if accumulator != nil {
			accumulator.Destroy()
		}
	}()

	// Step 7: Run the teaching pipeline, relaying chunks to the SSE writer.
	var tokenCount int32
	firstTokenTime := time.Time{}

	callbacks := teaching.StreamCallbacks{
		OnChunk: func(event llm.StreamEvent) error {
			// Explicit cancellation check for cost control.
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			switch event.Type {
			case llm.StreamEventToken:
				if atomic.AddInt32(&tokenCount, 1) == 1 {
					firstTokenTime = time.Now()
				}
				if accumulator != nil {
					if werr := accumulator.Write(event.Content); werr != nil {
						slog.Debug("token capture write failed", "error", werr)
					}
				}
				return sseWriter.WriteToken(event.Content)
			case llm.StreamEventThinking:
				return sseWriter.WriteThinking(event.Content)
			default:
				// Terminal events are driven by the pipeline's return
				// value, not relayed per chunk.
				return nil
			}
		},
		OnMetadata: func(md *datatypes.TeachMetadata) {
			if werr := sseWriter.WriteMetadata(md); werr != nil {
				slog.Debug("Failed to write metadata event", "error", werr)
			}
		},
	}

	streamErr := h.teacher.TeachStream(ctx, &req, callbacks)

	// Stop heartbeat.
	close(heartbeatDone)

	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "teach streaming failed")
		span.SetAttributes(attribute.Int("stream.token_count", int(atomic.LoadInt32(&tokenCount))))
		slog.Error("Teach streaming failed",
			"error", streamErr,
			"requestId", req.RequestID,
			"tokenCount", atomic.LoadInt32(&tokenCount),
		)

		_ = h.opts.AuditLogger.Log(ctx, extensions.AuditEvent{
			EventType:    "teach.stream",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "teach",
			ResourceType: "session",
			ResourceID:   req.SessionID,
			Outcome:      "failed",
			Metadata: map[string]any{
				"request_id":  req.RequestID,
				"error":       streamErr.Error(),
				"token_count": fmt.Sprintf("%d", atomic.LoadInt32(&tokenCount)),
			},
		})

		// A disconnected client cannot read an error event; everyone else
		// gets the sanitized message over the stream.
		if errors.Is(streamErr, datatypes.ErrStreamAborted) || errors.Is(streamErr, context.Canceled) {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
				m.RecordClientDisconnect(endpoint)
			}
		} else {
			_, clientMsg, code := mapTeachError(streamErr)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, code)
			}
			if werr := sseWriter.WriteError(clientMsg); werr != nil {
				slog.Debug("Failed to write error event", "error", werr)
			}
		}
		return
	}

	// Record time to first token.
	if !firstTokenTime.IsZero() {
		ttft := firstTokenTime.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, ttft)
		}
	}

	span.SetAttributes(attribute.Int("stream.token_count", int(atomic.LoadInt32(&tokenCount))))

	// Step 8: Emit done event.
	if err := sseWriter.WriteDone(req.SessionID); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write done event",
			"error", err,
			"requestId", req.RequestID,
		)
		return
	}

	// Step 8.5: Capture response for hosted audit.
	if accumulator != nil {
		answer, _, _ := accumulator.Finalize()
		_ = h.opts.RequestAuditor.CaptureResponse(ctx, auditID, &extensions.AuditableResponse{
			StatusCode: http.StatusOK,
			Headers:    extensions.HTTPHeaders{"Content-Type": "text/event-stream"},
			Body:       []byte(answer),
			Timestamp:  time.Now().UTC(),
		})
	}

	// Step 9: Log the completed stream.
	processingTime := time.Since(startTime).Milliseconds()
	_ = h.opts.AuditLogger.Log(ctx, extensions.AuditEvent{
		EventType:    "teach.stream",
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		Action:       "teach",
		ResourceType: "session",
		ResourceID:   req.SessionID,
		Outcome:      "success",
		Metadata: map[string]any{
			"request_id":    req.RequestID,
			"token_count":   fmt.Sprintf("%d", atomic.LoadInt32(&tokenCount)),
			"processing_ms": fmt.Sprintf("%d", processingTime),
		},
	})

	success = true
	span.SetStatus(codes.Ok, "stream completed successfully")
}

// =============================================================================
// Heartbeat
// =============================================================================

// runHeartbeat emits SSE keepalive comments until the stream finishes.
//
// # Description
//
// Long teaching turns can sit for tens of seconds between tokens while the
// model thinks. Proxies and load balancers close idle connections; the
// heartbeat keeps them open. Keepalive comments do not enter the event hash
// chain.
//
// # Inputs
//
//   - ctx: Request context; the heartbeat stops when it is cancelled.
//   - writer: SSE writer shared with the token stream.
//   - endpoint: Endpoint label for keepalive metrics.
//   - done: Closed by the caller when streaming completes.
func (h *teachHandler) runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}
