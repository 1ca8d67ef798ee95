// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Stream event types shared by the SSE and WebSocket teach transports.
package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Stream Event Types
// =============================================================================

// Stream event type names. The wire protocol is the same over SSE and
// WebSocket: status and token events during generation, exactly one
// metadata event after the final token, then done (or error).
const (
	EventStatus   = "status"
	EventToken    = "token"
	EventThinking = "thinking"
	EventMetadata = "metadata"
	EventDone     = "done"
	EventError    = "error"
)

// TeachMetadata is the payload of the trailing metadata event: everything
// the non-streaming response carries besides the message text itself.
type TeachMetadata struct {
	DetectedConcepts   []string          `json:"detected_concepts"`
	SuggestedFollowups []string          `json:"suggested_followups"`
	Strategy           *TeachingStrategy `json:"strategy,omitempty"`
}

// StreamEvent is one frame of a teach stream.
//
// # Description
//
// Every event carries a generated Id and CreatedAt plus an integrity hash
// chain: Hash is SHA-256 over the event's content and PrevHash links to the
// previous event, giving clients a verifiable chain of custody for streamed
// lesson content. Hash and PrevHash are populated by the transport writer,
// not by the builders here.
//
// # Fields
//
//   - Id: UUID v4, generated per event.
//   - Type: One of the Event* constants.
//   - CreatedAt: Unix milliseconds.
//   - Message: Human-readable text for status events.
//   - Content: Token text for token and thinking events.
//   - Metadata: Present only on metadata events.
//   - SessionId: Present on done events.
//   - Error: Sanitized message for error events.
type StreamEvent struct {
	Id        string         `json:"id"`
	Type      string         `json:"type"`
	CreatedAt int64          `json:"created_at"`
	Message   string         `json:"message,omitempty"`
	Content   string         `json:"content,omitempty"`
	Metadata  *TeachMetadata `json:"metadata,omitempty"`
	SessionId string         `json:"session_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Hash      string         `json:"hash,omitempty"`
	PrevHash  string         `json:"prev_hash,omitempty"`
}

// NewStreamEvent creates a StreamEvent of the given type with a fresh Id
// and CreatedAt. Optional fields are set via the With* builders.
func NewStreamEvent(eventType string) StreamEvent {
	return StreamEvent{
		Id:        uuid.New().String(),
		Type:      eventType,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// WithMessage sets the status message.
func (e StreamEvent) WithMessage(message string) StreamEvent {
	e.Message = message
	return e
}

// WithContent sets the token content.
func (e StreamEvent) WithContent(content string) StreamEvent {
	e.Content = content
	return e
}

// WithMetadata attaches the teach metadata payload.
func (e StreamEvent) WithMetadata(md *TeachMetadata) StreamEvent {
	e.Metadata = md
	return e
}

// WithSessionId sets the session identifier.
func (e StreamEvent) WithSessionId(sessionId string) StreamEvent {
	e.SessionId = sessionId
	return e
}

// WithError sets the sanitized error message.
func (e StreamEvent) WithError(errMsg string) StreamEvent {
	e.Error = errMsg
	return e
}
