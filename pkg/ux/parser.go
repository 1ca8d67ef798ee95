// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Praxis CLI.
//
// This file contains parsers for streaming response formats.
// Parsers are responsible for converting raw bytes/lines into StreamEvent structs.
//
// Single Responsibility:
//
//	Parsers ONLY parse. They do not perform I/O, rendering, or state management.
//	This separation enables easy testing and format extensibility.
//
// Supported Formats:
//
//   - SSE (Server-Sent Events): Standard format for HTTP streaming
//   - Future: JSONL, NDJSON
package ux

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SSE Parser Interface
// =============================================================================

// SSEParser parses Server-Sent Events format into StreamEvent structs.
//
// The tutor server emits framed events:
//
//	event: token\n
//	data: {"id":"...","type":"token","content":"Hello","hash":"...","prev_hash":"..."}\n
//	\n
//
// Each "data:" line contains a JSON payload. The "event:" line duplicates the
// type field inside the payload and is skipped. Empty lines are event
// delimiters (ignored), and lines starting with ":" are keep-alive comments
// (ignored).
//
// Thread Safety:
//
//	SSEParser implementations must be safe for concurrent use.
//	The default implementation is stateless and inherently thread-safe.
//
// Example:
//
//	parser := NewSSEParser()
//	event, err := parser.ParseLine(`data: {"type":"token","content":"Hi"}`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if event != nil {
//	    fmt.Println(event.Content) // "Hi"
//	}
type SSEParser interface {
	// ParseLine parses a single line of SSE input.
	//
	// Parameters:
	//   - line: A single line from the SSE stream (without trailing newline)
	//
	// Returns:
	//   - *StreamEvent: The parsed event, or nil for non-data lines
	//   - error: Non-nil if JSON parsing failed
	//
	// Line handling:
	//   - Empty lines: Returns nil, nil (event delimiter)
	//   - Comment lines (":"): Returns nil, nil (keep-alives)
	//   - Event lines ("event:"): Returns nil, nil (type rides in the payload)
	//   - Data lines ("data: "): Parses JSON payload
	//   - Other lines: Treated as raw token content
	ParseLine(line string) (*StreamEvent, error)

	// ParseRawJSON parses a raw JSON payload into a StreamEvent.
	//
	// Use this when you have JSON without the "data: " prefix.
	// Server-assigned Id, CreatedAt, Hash, and PrevHash are preserved;
	// Id and CreatedAt are generated only when the payload omits them.
	//
	// Parameters:
	//   - jsonData: Raw JSON bytes
	//
	// Returns:
	//   - *StreamEvent: The parsed event
	//   - error: Non-nil if JSON parsing failed
	ParseRawJSON(jsonData []byte) (*StreamEvent, error)
}

// =============================================================================
// SSE Parser Implementation
// =============================================================================

// sseParser implements SSEParser for Server-Sent Events format.
//
// This implementation is stateless and safe for concurrent use.
type sseParser struct{}

// NewSSEParser creates a new SSE parser.
//
// The returned parser is stateless and can be safely shared across goroutines.
//
// Example:
//
//	parser := NewSSEParser()
//	event, _ := parser.ParseLine(`data: {"type":"done","session_id":"sess-123"}`)
func NewSSEParser() SSEParser {
	return &sseParser{}
}

// ParseLine parses a single SSE line.
//
// Handles the following line types:
//   - Empty: Returns nil (event boundary)
//   - Comment (starts with ":"): Returns nil (keep-alive pings)
//   - Event (starts with "event:"): Returns nil (type is in the data payload)
//   - Data (starts with "data: "): Parses JSON after prefix
//   - Other: Treats entire line as token content
func (p *sseParser) ParseLine(line string) (*StreamEvent, error) {
	// Trim whitespace
	line = strings.TrimSpace(line)

	// Empty lines are event delimiters
	if line == "" {
		return nil, nil
	}

	// Comments start with ":" (the server sends ": ping" keep-alives)
	if strings.HasPrefix(line, ":") {
		return nil, nil
	}

	// Event-type framing lines duplicate the type field in the payload
	if strings.HasPrefix(line, "event:") {
		return nil, nil
	}

	// Data lines start with "data: "
	if strings.HasPrefix(line, "data: ") {
		jsonData := strings.TrimPrefix(line, "data: ")
		return p.ParseRawJSON([]byte(jsonData))
	}

	// Also handle "data:" without space (some servers do this)
	if strings.HasPrefix(line, "data:") {
		jsonData := strings.TrimPrefix(line, "data:")
		return p.ParseRawJSON([]byte(jsonData))
	}

	// Non-JSON line - treat as raw token
	// This handles servers that send plain text tokens
	return &StreamEvent{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Type:      StreamEventToken,
		Content:   line,
	}, nil
}

// ParseRawJSON parses a JSON payload into a StreamEvent.
//
// The JSON should have a "type" field indicating the event type. Missing
// fields are handled gracefully with zero values. Integrity fields (Hash,
// PrevHash) and the server-assigned Id and CreatedAt are preserved exactly
// as sent; regenerating them would break chain verification.
//
// Example JSON:
//
//	{"type":"token","content":"Hello"}
//	{"type":"metadata","metadata":{"detected_concepts":["recursion"]}}
//	{"type":"done","session_id":"sess-123"}
func (p *sseParser) ParseRawJSON(jsonData []byte) (*StreamEvent, error) {
	var event StreamEvent
	if err := json.Unmarshal(jsonData, &event); err != nil {
		return nil, err
	}

	// Fill in envelope fields for servers that omit them
	if event.Id == "" {
		event.Id = uuid.New().String()
	}
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().UnixMilli()
	}

	return &event, nil
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEParser = (*sseParser)(nil)
