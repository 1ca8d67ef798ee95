// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the tutor service over HTTP: the synchronous and
// streaming teach endpoints, the learner memory endpoints, and the health
// probe. Handlers bind and validate request bodies, scan outbound student
// messages through the policy engine, run the extension hooks (authz, audit,
// filtering, request capture), and translate teaching-pipeline errors into
// client-safe HTTP responses.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/praxislearn/praxis/pkg/extensions"
	"github.com/praxislearn/praxis/services/policy_engine"
	"github.com/praxislearn/praxis/services/tutor/datatypes"
	"github.com/praxislearn/praxis/services/tutor/middleware"
	"github.com/praxislearn/praxis/services/tutor/observability"
	"github.com/praxislearn/praxis/services/tutor/teaching"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Handler Interface
// =============================================================================

// TeachHandler serves the teach endpoints over all three transports.
//
// # Description
//
// TeachHandler owns the HTTP surface of the teaching pipeline:
//
//   - HandleTeach: POST /v1/teach, a blocking request/response exchange
//   - HandleTeachStream: POST /v1/teach/stream, SSE token streaming
//   - HandleTeachWS: GET /v1/teach/ws, WebSocket relay of the same protocol
//
// All three transports share the same security flow: request validation,
// policy scan of the student's message before it can leave the service,
// authorization and audit hooks, and sanitized errors (SEC-005).
//
// # Limitations
//
//   - Only the new student message is scanned for policy violations, not
//     the previous_messages history (history was scanned when first sent).
//
// # Assumptions
//
//   - AuthMiddleware has run and stored AuthInfo in the Gin context.
type TeachHandler interface {
	HandleTeach(c *gin.Context)
	HandleTeachStream(c *gin.Context)
	HandleTeachWS(c *gin.Context)
}

type teachHandler struct {
	teacher      teaching.Teacher
	policyEngine *policy_engine.PolicyEngine
	tracer       trace.Tracer
	opts         extensions.ServiceOptions
}

// =============================================================================
// Constructor
// =============================================================================

// NewTeachHandler creates a TeachHandler with the provided dependencies.
//
// # Description
//
// Creates a fully configured teachHandler for production use. All
// dependencies must be properly initialized before calling. Panics if
// teacher or policyEngine is nil (programming errors).
//
// # Inputs
//
//   - teacher: Teaching pipeline. Must not be nil.
//   - policyEngine: Outbound message scanner. Must not be nil.
//   - opts: Extension options for hosted features (auth, audit, filter).
//     Use extensions.DefaultOptions() for local deployments.
//
// # Outputs
//
//   - TeachHandler: Ready for use with Gin router
//
// # Examples
//
//	handler := handlers.NewTeachHandler(teacher, policyEngine, extensions.DefaultOptions())
//	v1.POST("/teach", handler.HandleTeach)
//	v1.POST("/teach/stream", handler.HandleTeachStream)
//	v1.GET("/teach/ws", handler.HandleTeachWS)
//
// # Limitations
//
//   - Panics on nil teacher or policyEngine
//
// # Assumptions
//
//   - teacher and policyEngine are non-nil and ready for use
func NewTeachHandler(
	teacher teaching.Teacher,
	policyEngine *policy_engine.PolicyEngine,
	opts extensions.ServiceOptions,
) TeachHandler {
	if teacher == nil {
		panic("NewTeachHandler: teacher must not be nil")
	}
	if policyEngine == nil {
		panic("NewTeachHandler: policyEngine must not be nil")
	}

	return &teachHandler{
		teacher:      teacher,
		policyEngine: policyEngine,
		tracer:       otel.Tracer("praxis.tutor.handlers.teach"),
		opts:         opts,
	}
}

// =============================================================================
// Synchronous Handler
// =============================================================================

// HandleTeach processes a blocking teach exchange.
//
// # Description
//
// Handles POST /v1/teach requests. The flow is:
//  1. Parse and validate request body
//  2. Scan the student's message for policy violations (outbound protection)
//  3. Run the full teaching pipeline (extract, strategize, generate, record)
//  4. Return the teaching response with detected concepts and followups
//
// # Security
//
//   - Outbound (student -> LLM): Scanned and blocked if it contains
//     sensitive data (secrets, PII)
//   - Inbound (LLM -> student): Passed through the output filter hook
//
// # Inputs
//
//   - c: Gin context containing the HTTP request
//
// Request Body (datatypes.TeachRequest):
//   - user_id: Learner identifier. Filled from the authenticated identity
//     when omitted, so single-learner clients need not send it.
//   - session_id: Optional. Existing session to continue.
//   - message: Required. The student's question (max 32KB).
//   - previous_messages: Optional. Conversation history (max 100).
//   - context: Optional. Free-form key/value hints.
//
// # Outputs
//
// HTTP Status:
//   - 200 OK: datatypes.TeachResponse JSON
//   - 400 Bad Request: Invalid request body or validation failure
//   - 403 Forbidden: Policy violation or authorization denial
//   - 503 Service Unavailable: Both model tiers failed
//   - 500 Internal Server Error: Memory storage or pipeline failure
//
// # Examples
//
// Request:
//
//	POST /v1/teach
//	{"message": "Why does my binary search loop forever?"}
//
// Response:
//
//	{"message": "What happens to your bounds when...", "detected_concepts":
//	["binary search"], "suggested_followups": [...], "strategy": {...}}
//
// # Limitations
//
//   - Blocks until generation completes; use HandleTeachStream for
//     incremental delivery
//
// # Assumptions
//
//   - Request body is valid JSON
//
// # Security References
//
//   - SEC-003: Message size limits enforced via validation
//   - SEC-005: Internal errors not exposed to client
func (h *teachHandler) HandleTeach(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointTeach

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleTeach")
	defer span.End()

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
		}
	}()

	// Step 0: Get authenticated user from context.
	// Auth middleware has already validated the token and stored AuthInfo.
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
		slog.Error("Failed to parse teach request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// Single-learner clients authenticate as "local-learner" and omit
	// user_id from the body; the authenticated identity fills it in.
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
		slog.Error("Teach request validation failed",
			"error", err,
			"requestId", req.RequestID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	// Step 2.5: Authorization check. Hosted deployments can restrict who
	// may start teach exchanges.
	if !h.authorizeTeach(ctx, c, span, authInfo, userID, &req, "sync") {
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

	// Step 3: Scan the student's message for policy violations (OUTBOUND
	// protection). This prevents students from sending sensitive data out
	// to the model provider.
	if !h.scanAndFilterMessage(ctx, c, span, endpoint, userID, &req, "sync") {
		return
	}

	// Step 4: Run the teaching pipeline.
	resp, err := h.teacher.Teach(ctx, &req)
	if err != nil {
		status, clientMsg, code := mapTeachError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "teach failed")
		slog.Error("Teach pipeline failed",
			"error", err,
			"requestId", req.RequestID,
			"status", status,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, code)
		}
		_ = h.opts.AuditLogger.Log(ctx, extensions.AuditEvent{
			EventType:    "teach.request",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "teach",
			ResourceType: "session",
			ResourceID:   req.SessionID,
			Outcome:      "failed",
			Metadata: map[string]any{
				"request_id": req.RequestID,
				"error":      err.Error(),
			},
		})
		c.JSON(status, gin.H{"error": clientMsg})
		return
	}

	// Step 5: Run the model's answer through the output filter hook.
	// Hosted deployments can redact content before it reaches the learner.
	outResult, outErr := h.opts.MessageFilter.FilterOutput(ctx, resp.Message)
	if outErr != nil {
		span.RecordError(outErr)
		slog.Error("Output filter failed", "error", outErr, "requestId", req.RequestID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "response processing failed"})
		return
	}
	resp.Message = outResult.Filtered

	// Step 6: Capture response for hosted audit.
	if respBody, marshalErr := json.Marshal(resp); marshalErr == nil {
		_ = h.opts.RequestAuditor.CaptureResponse(ctx, auditID, &extensions.AuditableResponse{
			StatusCode: http.StatusOK,
			Headers:    extensions.HTTPHeaders{"Content-Type": "application/json"},
			Body:       respBody,
			Timestamp:  time.Now().UTC(),
		})
	}

	// Step 7: Log the completed exchange.
	processingTime := time.Since(startTime).Milliseconds()
	_ = h.opts.AuditLogger.Log(ctx, extensions.AuditEvent{
		EventType:    "teach.request",
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		Action:       "teach",
		ResourceType: "session",
		ResourceID:   req.SessionID,
		Outcome:      "success",
		Metadata: map[string]any{
			"request_id":    req.RequestID,
			"processing_ms": fmt.Sprintf("%d", processingTime),
			"approach":      strategyApproach(resp.Strategy),
			"concepts":      fmt.Sprintf("%d", len(resp.DetectedConcepts)),
		},
	})

	success = true
	span.SetStatus(codes.Ok, "teach completed")
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Shared Request Steps
// =============================================================================

// authorizeTeach runs the authorization hook for a teach request. Returns
// false after writing the 403 response if the hook denies access.
func (h *teachHandler) authorizeTeach(
	ctx context.Context,
	c *gin.Context,
	span trace.Span,
	authInfo *extensions.AuthInfo,
	userID string,
	req *datatypes.TeachRequest,
	transport string,
) bool {
	err := h.opts.AuthzProvider.Authorize(ctx, extensions.AuthzRequest{
		User:         authInfo,
		Action:       "teach",
		ResourceType: "session",
		ResourceID:   req.SessionID,
	})
	if err == nil {
		return true
	}

	span.SetStatus(codes.Error, "authorization denied")
	_ = h.opts.AuditLogger.Log(ctx, extensions.AuditEvent{
		EventType:    "authz.denied",
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		Action:       "teach",
		ResourceType: "session",
		ResourceID:   req.SessionID,
		Outcome:      "denied",
		Metadata: map[string]any{
			"request_id": req.RequestID,
			"transport":  transport,
			"reason":     err.Error(),
		},
	})
	c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	return false
}

// scanAndFilterMessage runs the policy scan and the input filter hook over
// the student's new message. Returns false after writing the 403 or 500
// response if the message may not proceed; on success req.Message holds the
// filtered content.
func (h *teachHandler) scanAndFilterMessage(
	ctx context.Context,
	c *gin.Context,
	span trace.Span,
	endpoint observability.Endpoint,
	userID string,
	req *datatypes.TeachRequest,
	transport string,
) bool {
	// Policy engine scan.
	findings := h.policyEngine.ScanMessage(req.Message)
	if len(findings) > 0 {
		span.SetAttributes(attribute.Int("policy.findings_count", len(findings)))
		slog.Warn("Blocked teach request: message contains sensitive data",
			"findings_count", len(findings),
			"finding_types", extractFindingTypes(findings),
			"requestId", req.RequestID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodePolicyViolation)
		}
		c.JSON(http.StatusForbidden, gin.H{
			"error":    "Policy Violation: Message contains sensitive data.",
			"findings": findings,
		})
		return false
	}

	// Input filter hook. Hosted deployments can redact or block here.
	filterResult, filterErr := h.opts.MessageFilter.FilterInput(ctx, req.Message)
	if filterErr != nil {
		span.RecordError(filterErr)
		slog.Error("Message filter failed", "error", filterErr, "requestId", req.RequestID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message processing failed"})
		return false
	}
	if filterResult.WasBlocked {
		_ = h.opts.AuditLogger.Log(ctx, extensions.AuditEvent{
			EventType:    "teach.blocked",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "teach",
			ResourceType: "session",
			ResourceID:   req.SessionID,
			Outcome:      "blocked",
			Metadata: map[string]any{
				"request_id": req.RequestID,
				"transport":  transport,
				"reason":     filterResult.BlockReason,
			},
		})
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodePolicyViolation)
		}
		c.JSON(http.StatusForbidden, gin.H{
			"error":  "Message blocked by content filter",
			"reason": filterResult.BlockReason,
		})
		return false
	}

	// Use filtered content (may have PII redacted).
	req.Message = filterResult.Filtered
	return true
}

// =============================================================================
// Helpers
// =============================================================================

// mapTeachError converts a teaching-pipeline error into an HTTP status, a
// client-safe message, and a metrics error code. Raw upstream errors never
// reach the client (SEC-005); the caller logs the full error.
func mapTeachError(err error) (int, string, observability.ErrorCode) {
	switch {
	case errors.Is(err, datatypes.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid request", observability.ErrorCodeValidation
	case errors.Is(err, datatypes.ErrPolicyViolation):
		return http.StatusForbidden, "policy violation", observability.ErrorCodePolicyViolation
	case errors.Is(err, datatypes.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable,
			"The tutor is temporarily unavailable. Please retry shortly.",
			observability.ErrorCodeUpstreamUnavailable
	case errors.Is(err, datatypes.ErrStorage):
		return http.StatusInternalServerError, "memory storage failed", observability.ErrorCodeMemoryError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out", observability.ErrorCodeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, datatypes.ErrStreamAborted):
		// 499 is the de facto client-closed-request status (nginx). The
		// client is gone; the code is recorded in logs and metrics only.
		return 499, "request canceled", observability.ErrorCodeClientDisconnect
	default:
		return http.StatusInternalServerError,
			"An error occurred while processing your request",
			observability.ErrorCodeInternal
	}
}

// extractHeaders copies request headers for audit capture, excluding
// credentials. Multi-valued headers keep their first value.
func extractHeaders(c *gin.Context) extensions.HTTPHeaders {
	headers := extensions.HTTPHeaders{}
	for name, values := range c.Request.Header {
		if strings.EqualFold(name, "Authorization") || strings.EqualFold(name, "Cookie") {
			continue
		}
		if len(values) > 0 {
			headers.Set(name, values[0])
		}
	}
	return headers
}

// extractFindingTypes pulls classification names out of scan findings for
// structured logging without echoing the matched content.
func extractFindingTypes(findings []policy_engine.ScanFinding) []string {
	types := make([]string, 0, len(findings))
	for _, f := range findings {
		types = append(types, f.ClassificationName)
	}
	return types
}

// strategyApproach returns the strategy approach name for audit metadata,
// tolerating a nil strategy.
func strategyApproach(strategy *datatypes.TeachingStrategy) string {
	if strategy == nil {
		return ""
	}
	return string(strategy.Approach)
}

var _ TeachHandler = (*teachHandler)(nil)
