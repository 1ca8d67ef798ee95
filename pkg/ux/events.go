// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Praxis CLI.
//
// This file defines the streaming event model shared by parsers, readers,
// and renderers. Events mirror the tutor server's SSE wire format so that
// integrity hashes computed server-side can be re-verified client-side.
package ux

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Stream Event Types
// =============================================================================

// StreamEventType identifies the kind of streaming event.
type StreamEventType string

const (
	// StreamEventStatus is a progress update (e.g., "Analyzing question...").
	StreamEventStatus StreamEventType = "status"

	// StreamEventToken is a single token of the tutor's answer.
	StreamEventToken StreamEventType = "token"

	// StreamEventThinking is a reasoning token from extended thinking models.
	StreamEventThinking StreamEventType = "thinking"

	// StreamEventMetadata carries detected concepts, followups, and strategy.
	StreamEventMetadata StreamEventType = "metadata"

	// StreamEventDone signals successful stream completion.
	StreamEventDone StreamEventType = "done"

	// StreamEventError signals stream failure.
	StreamEventError StreamEventType = "error"
)

// String returns the string representation of the event type.
func (t StreamEventType) String() string {
	return string(t)
}

// IsTerminal returns true if this event type ends the stream.
func (t StreamEventType) IsTerminal() bool {
	return t == StreamEventDone || t == StreamEventError
}

// =============================================================================
// Teaching Metadata
// =============================================================================

// StrategyInfo describes the teaching approach the tutor selected.
//
// Field order matters: metadata is re-serialized during hash chain
// verification and must produce the same JSON the server hashed.
type StrategyInfo struct {
	Approach   string   `json:"approach"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Directives []string `json:"directives,omitempty"`
}

// TeachMetadata is the client-side mirror of the server's metadata event
// payload: concepts detected in the student's message, suggested followup
// questions, and the selected teaching strategy.
type TeachMetadata struct {
	DetectedConcepts   []string      `json:"detected_concepts"`
	SuggestedFollowups []string      `json:"suggested_followups"`
	Strategy           *StrategyInfo `json:"strategy,omitempty"`
}

// =============================================================================
// Stream Event
// =============================================================================

// StreamEvent is a single event from a streaming teach response.
//
// Events received from the server carry server-generated Id, CreatedAt,
// Hash, and PrevHash values; these must be preserved (not regenerated)
// for hash chain verification to succeed. Events constructed locally via
// the New*Event helpers get fresh Id and CreatedAt values and no hash.
//
// Fields:
//   - Id: Unique event identifier (UUID v4).
//   - Type: Event type (status, token, thinking, metadata, done, error).
//   - CreatedAt: Creation timestamp in Unix milliseconds.
//   - Message: Human-readable text for status events.
//   - Content: Token or thinking content.
//   - Metadata: Teaching metadata (metadata events only).
//   - SessionID: Session identifier (done events).
//   - Error: Error message (error events).
//   - Hash: SHA-256 integrity hash of this event.
//   - PrevHash: Hash of the previous event (empty for the first event).
//   - Index: Client-assigned ordinal within the stream. Not on the wire.
type StreamEvent struct {
	Id        string          `json:"id"`
	Type      StreamEventType `json:"type"`
	CreatedAt int64           `json:"created_at"`
	Message   string          `json:"message,omitempty"`
	Content   string          `json:"content,omitempty"`
	Metadata  *TeachMetadata  `json:"metadata,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Hash      string          `json:"hash,omitempty"`
	PrevHash  string          `json:"prev_hash,omitempty"`
	Index     int             `json:"-"`
}

// IsTerminal returns true if this event ends the stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Type.IsTerminal()
}

// CreatedAtTime returns the event creation time as a time.Time.
func (e StreamEvent) CreatedAtTime() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// StreamCallback is invoked for each event during stream reading.
// Returning a non-nil error stops the stream.
type StreamCallback func(event StreamEvent) error

// =============================================================================
// Stream Event Constructors
// =============================================================================

func newStreamEvent(eventType StreamEventType) StreamEvent {
	return StreamEvent{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Type:      eventType,
	}
}

// NewStatusEvent creates a status event with the given message.
func NewStatusEvent(message string) StreamEvent {
	event := newStreamEvent(StreamEventStatus)
	event.Message = message
	return event
}

// NewTokenEvent creates a token event with the given content.
func NewTokenEvent(content string) StreamEvent {
	event := newStreamEvent(StreamEventToken)
	event.Content = content
	return event
}

// NewThinkingEvent creates a thinking event with the given content.
func NewThinkingEvent(content string) StreamEvent {
	event := newStreamEvent(StreamEventThinking)
	event.Content = content
	return event
}

// NewMetadataEvent creates a metadata event carrying teaching metadata.
func NewMetadataEvent(metadata *TeachMetadata) StreamEvent {
	event := newStreamEvent(StreamEventMetadata)
	event.Metadata = metadata
	return event
}

// NewDoneEvent creates a done event with the given session ID.
func NewDoneEvent(sessionID string) StreamEvent {
	event := newStreamEvent(StreamEventDone)
	event.SessionID = sessionID
	return event
}

// NewErrorEvent creates an error event with the given message.
func NewErrorEvent(message string) StreamEvent {
	event := newStreamEvent(StreamEventError)
	event.Error = message
	return event
}

// =============================================================================
// Stream Result
// =============================================================================

// StreamResult aggregates a complete streaming response.
//
// Fields:
//   - Id: Unique result identifier (UUID v4).
//   - RequestID: Correlation ID from the originating request.
//   - CreatedAt: When streaming started (Unix ms).
//   - CompletedAt: When streaming ended (Unix ms).
//   - FirstTokenAt: When the first answer token arrived (Unix ms).
//   - Answer: Complete answer text (all tokens concatenated).
//   - Thinking: Complete thinking text, if any.
//   - Metadata: Teaching metadata from the metadata event, if any.
//   - SessionID: Session identifier for multi-turn conversations.
//   - Error: Error message if the stream failed.
//   - TotalEvents: Number of events processed.
//   - TotalTokens: Number of answer tokens.
//   - ThinkingTokens: Number of thinking tokens.
//   - ChainHash: Hash of the final event in the integrity chain.
//   - ContentHash: SHA-256 of the complete answer text.
type StreamResult struct {
	Id           string         `json:"id"`
	RequestID    string         `json:"request_id,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	CompletedAt  int64          `json:"completed_at,omitempty"`
	FirstTokenAt int64          `json:"first_token_at,omitempty"`
	Answer       string         `json:"answer,omitempty"`
	Thinking     string         `json:"thinking,omitempty"`
	Metadata     *TeachMetadata `json:"metadata,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Error        string         `json:"error,omitempty"`

	TotalEvents    int `json:"total_events"`
	TotalTokens    int `json:"total_tokens"`
	ThinkingTokens int `json:"thinking_tokens,omitempty"`

	ChainHash   string `json:"chain_hash,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
}

// NewStreamResult creates an empty result with Id and CreatedAt set.
func NewStreamResult() *StreamResult {
	return &StreamResult{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
	}
}

// NewStreamResultWithRequestID creates a result tied to a request ID.
func NewStreamResultWithRequestID(requestID string) *StreamResult {
	result := NewStreamResult()
	result.RequestID = requestID
	return result
}

// HasError returns true if the stream ended with an error.
func (r *StreamResult) HasError() bool {
	return r.Error != ""
}

// Duration returns total streaming time, or 0 if timestamps are missing.
func (r *StreamResult) Duration() time.Duration {
	if r.CreatedAt == 0 || r.CompletedAt == 0 {
		return 0
	}
	return time.Duration(r.CompletedAt-r.CreatedAt) * time.Millisecond
}

// TimeToFirstToken returns latency to the first answer token, or 0 if
// timestamps are missing.
func (r *StreamResult) TimeToFirstToken() time.Duration {
	if r.CreatedAt == 0 || r.FirstTokenAt == 0 {
		return 0
	}
	return time.Duration(r.FirstTokenAt-r.CreatedAt) * time.Millisecond
}

// TokensPerSecond returns the token generation rate, or 0 if the duration
// is zero or no tokens were generated.
func (r *StreamResult) TokensPerSecond() float64 {
	duration := r.Duration()
	if duration == 0 || r.TotalTokens == 0 {
		return 0
	}
	return float64(r.TotalTokens) / duration.Seconds()
}

// CreatedAtTime returns CreatedAt as a time.Time.
func (r *StreamResult) CreatedAtTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// CompletedAtTime returns CompletedAt as a time.Time.
func (r *StreamResult) CompletedAtTime() time.Time {
	return time.UnixMilli(r.CompletedAt)
}

// FirstTokenAtTime returns FirstTokenAt as a time.Time, or the zero time
// if no token arrived.
func (r *StreamResult) FirstTokenAtTime() time.Time {
	if r.FirstTokenAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.FirstTokenAt)
}
