// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the tutor service.
//
// This file contains request and response types for the teach endpoints.
// For user memory and learning-analytics types, see memory.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Per SEC-003: Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxPreviousMessages is the maximum number of prior messages in a request.
	// Per SEC-004: Unbounded message history mitigation.
	MaxPreviousMessages = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// teachValidate is the validator instance for teach datatypes.
// Initialized in init() with custom validators.
var teachValidate *validator.Validate

func init() {
	teachValidate = validator.New()

	// Register custom validator for message content size (SEC-003)
	_ = teachValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed MaxMessageContentBytes.
//
// # Description
//
// Custom validator to enforce SEC-003 message size limits. Checks byte length
// (not rune count) to prevent memory exhaustion attacks with large payloads.
//
// # Inputs
//
//   - fl: Validator field level containing the string to validate
//
// # Outputs
//
//   - bool: true if content <= 32KB, false otherwise
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Shared Message Type
// =============================================================================

// Message is a single conversational message exchanged with the LLM.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// =============================================================================
// Teach Request Types
// =============================================================================

// TeachRequest represents a teach endpoint request body.
//
// # Description
//
// TeachRequest carries one student message plus enough surrounding state for
// the teacher to personalize the reply: the student identity (for memory
// lookup), the session (for continuity), optional prior messages, and an
// optional free-form context map. This is the body for POST /v1/teach and
// POST /v1/teach/stream, and the first frame on the WebSocket variant.
//
// # Fields
//
//   - RequestID: Optional. UUID v4 identifier for tracing; generated
//     server-side by EnsureDefaults when absent.
//   - UserID: Required. Stable student identifier used as the memory key.
//   - SessionID: Optional. Conversation session; generated when absent.
//   - Message: Required. The student's message. Limited to 32KB (SEC-003).
//   - PreviousMessages: Optional. Recent conversation turns, newest last,
//     at most 100 (SEC-004).
//   - Context: Optional. Free-form hints from the caller (course, unit, ...).
//
// # Validation
//
// Uses go-playground/validator:
//   - UserID: required, 1-128 chars
//   - Message: required, max 32768 bytes per SEC-003
//   - PreviousMessages: 0-100 elements, each element validated
//
// # Examples
//
//	req := TeachRequest{
//	    UserID:  "student-42",
//	    Message: "Why does my gradient explode?",
//	}
//	req.EnsureDefaults()
//
// # Limitations
//
//   - Context values are advisory; the teacher may ignore unknown keys.
//
// # Assumptions
//
//   - PreviousMessages are in chronological order.
//
// # Security References
//
//   - SEC-003: Message size limits
//   - SEC-005: Error message sanitization
type TeachRequest struct {
	RequestID        string            `json:"request_id" validate:"omitempty,uuid4"`
	UserID           string            `json:"user_id" validate:"required,min=1,max=128"`
	SessionID        string            `json:"session_id" validate:"omitempty,max=128"`
	Message          string            `json:"message" validate:"required,maxbytes"`
	PreviousMessages []Message         `json:"previous_messages" validate:"max=100,dive"`
	Context          map[string]string `json:"context,omitempty"`
}

// Validate validates the TeachRequest fields.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field
func (r *TeachRequest) Validate() error {
	return teachValidate.Struct(r)
}

// EnsureDefaults populates RequestID and SessionID when the client omitted them.
func (r *TeachRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = generateUUID()
	}
	if r.SessionID == "" {
		r.SessionID = generateUUID()
	}
}

// =============================================================================
// Teach Response Types
// =============================================================================

// TeachResponse represents the response from a non-streaming teach request.
//
// # Description
//
// Contains the generated teaching reply plus the metadata the streaming
// variant delivers in its trailing metadata event: the concepts detected in
// the student message, suggested follow-up questions, and the strategy used.
//
// # Fields
//
//   - ResponseID: Server-generated UUID v4 for audit correlation.
//   - RequestID: Echo of the request ID.
//   - SessionID: Session identifier for conversation continuity.
//   - Timestamp: Unix milliseconds (UTC) when the response was generated.
//   - Message: The teaching reply text.
//   - DetectedConcepts: Concepts extracted from the student message,
//     lowercase, first-mention order.
//   - SuggestedFollowups: Follow-up questions derived from the concepts.
//   - Strategy: The teaching approach that shaped the reply.
//   - ProcessingTimeMs: Server-side processing time.
type TeachResponse struct {
	ResponseID         string            `json:"response_id"`
	RequestID          string            `json:"request_id"`
	SessionID          string            `json:"session_id"`
	Timestamp          int64             `json:"timestamp"`
	Message            string            `json:"message"`
	DetectedConcepts   []string          `json:"detected_concepts"`
	SuggestedFollowups []string          `json:"suggested_followups"`
	Strategy           *TeachingStrategy `json:"strategy,omitempty"`
	ProcessingTimeMs   int64             `json:"processing_time_ms,omitempty"`
}

// NewTeachResponse creates a TeachResponse with generated ID and timestamp.
//
// # Inputs
//
//   - requestID: The request ID to echo back for correlation
//   - sessionID: Session identifier
//   - message: The generated teaching reply
//
// # Outputs
//
//   - *TeachResponse: A new response with ResponseID and Timestamp set
func NewTeachResponse(requestID, sessionID, message string) *TeachResponse {
	return &TeachResponse{
		ResponseID: generateUUID(),
		RequestID:  requestID,
		SessionID:  sessionID,
		Timestamp:  time.Now().UnixMilli(),
		Message:    message,
	}
}

// =============================================================================
// Memory Endpoint Request Types
// =============================================================================

// FeedbackRequest records a student rating for a past interaction.
//
// Ratings are 1-5; they append to the interaction's rating history and nudge
// concept confidence (see memory manager docs for the adjustment rule).
type FeedbackRequest struct {
	InteractionID string `json:"interaction_id" validate:"required"`
	Rating        int    `json:"rating" validate:"required,gte=1,lte=5"`
}

// Validate validates the FeedbackRequest fields.
func (r *FeedbackRequest) Validate() error {
	return teachValidate.Struct(r)
}

// PreferencesRequest updates a student's stored preferences.
//
// TechnicalLevel outside 1-5 is clamped by the memory manager rather than
// rejected, so the validator only guards gross misuse.
type PreferencesRequest struct {
	Format         string `json:"format" validate:"omitempty,oneof=text markdown code-heavy"`
	TechnicalLevel int    `json:"technical_level" validate:"omitempty,gte=0,lte=10"`
	LearningStyle  string `json:"learning_style" validate:"omitempty,max=64"`
}

// Validate validates the PreferencesRequest fields.
func (r *PreferencesRequest) Validate() error {
	return teachValidate.Struct(r)
}

// generateUUID returns a new UUID v4 string.
func generateUUID() string {
	return uuid.New().String()
}
